package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 4 << 20

// HTTPError is returned for any non-200 response. The body is kept (trimmed)
// because some exchanges only signal geo blocks in the payload.
type HTTPError struct {
	Exchange string
	Path     string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Exchange, e.Path, e.Status, e.Body)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// restClient is bound to one base URL. The failover group builds a new one
// whenever it moves to another endpoint.
type restClient struct {
	exchange   string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

func newRESTClient(exchange, baseURL string, timeout time.Duration, headers map[string]string) *restClient {
	return &restClient{
		exchange: exchange,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s %s: failed to build request: %w", c.exchange, path, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", c.exchange, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response body: %w", c.exchange, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{
			Exchange: c.exchange,
			Path:     path,
			Status:   resp.StatusCode,
			Body:     trimBody(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: failed to parse response: %w", c.exchange, path, err)
	}
	return nil
}

func trimBody(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// isClientError reports 4xx responses that will not change on retry.
// 403/451 belong to failover and 429 is worth waiting out.
func isClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.Status {
	case http.StatusForbidden, http.StatusUnavailableForLegalReasons, http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	}
	return he.Status >= 400 && he.Status < 500
}

// isNetworkError reports failures below HTTP: DNS, dial, TLS, timeouts.
func isNetworkError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
