package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
)

const (
	discordColorIntra = 0x3498db
	discordColorCross = 0x2ecc71
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts as embeds to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSender) Name() string {
	return "discord"
}

// discordEmbedFor lays the alert out as one embed with a field per
// metadata key. Field values are plain text, so nothing needs escaping.
func discordEmbedFor(a *models.Alert) discordEmbed {
	title, _ := Format(a)
	e := discordEmbed{
		Title: title,
		Color: discordColorIntra,
		Fields: []discordField{
			{Name: "user", Value: fmt.Sprint(a.UserID), Inline: true},
			{Name: "spread", Value: fmt.Sprintf("%.4f%%", a.SpreadPct), Inline: true},
		},
	}
	if a.AdditionalData["kind"] == "cross" {
		e.Color = discordColorCross
	}
	if !a.CreatedAt.IsZero() {
		e.Timestamp = a.CreatedAt.UTC().Format(time.RFC3339)
	}

	keys := make([]string, 0, len(a.AdditionalData))
	for k := range a.AdditionalData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Fields = append(e.Fields, discordField{Name: k, Value: fmt.Sprint(a.AdditionalData[k]), Inline: true})
	}
	return e
}

func (d *DiscordSender) Send(ctx context.Context, a *models.Alert) error {
	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{discordEmbedFor(a)}})
	if err != nil {
		return fmt.Errorf("discord: marshal alert %s: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send alert %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	// 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: alert %s: status %d: %s", a.ID, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
