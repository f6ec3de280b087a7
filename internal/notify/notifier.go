// Package notify delivers alerts to the configured chat channels.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/models"
)

// Sender is one notification channel. Each sender renders the alert in its
// channel's own format.
type Sender interface {
	Send(ctx context.Context, a *models.Alert) error
	Name() string
}

// Notifier fans an alert out to every sender. One sender failing does not
// stop delivery to the others.
type Notifier struct {
	senders []Sender
	logger  zerolog.Logger
}

func NewNotifier(senders ...Sender) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  log.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) Senders() int {
	return len(n.senders)
}

// Deliver implements alert.Deliverer. With no senders configured the alert
// is only logged.
func (n *Notifier) Deliver(ctx context.Context, a *models.Alert) error {
	if len(n.senders) == 0 {
		title, message := Format(a)
		n.logger.Info().
			Str("alert", a.ID).
			Int64("user", a.UserID).
			Str("title", title).
			Msg(message)
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.Error().Err(err).Str("sender", s.Name()).Str("alert", a.ID).Msg("sender failed")
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug().Str("sender", s.Name()).Str("alert", a.ID).Msg("notification sent")
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Format renders an alert as a title and a plain-text body.
func Format(a *models.Alert) (string, string) {
	title := fmt.Sprintf("%s spread %.3f%% on %s", a.Symbol, a.SpreadPct, a.Exchange)

	var b strings.Builder
	fmt.Fprintf(&b, "user %d\n", a.UserID)
	if buy, ok := a.AdditionalData["buy_exchange"].(string); ok {
		sell, _ := a.AdditionalData["sell_exchange"].(string)
		fmt.Fprintf(&b, "buy on %s, sell on %s\n", buy, sell)
	}

	keys := make([]string, 0, len(a.AdditionalData))
	for k := range a.AdditionalData {
		if k == "buy_exchange" || k == "sell_exchange" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.AdditionalData[k])
	}
	return title, strings.TrimRight(b.String(), "\n")
}
