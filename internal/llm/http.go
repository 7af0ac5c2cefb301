package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxAttempts        = 3
	retryBaseDelay     = 250 * time.Millisecond
	retryMaxDelay      = 2 * time.Second
)

// HTTPClient forwards completion requests to an inference HTTP endpoint that
// speaks a plain JSON request/response dialect.
type HTTPClient struct {
	url     string
	client  *http.Client
	onError func()
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// OnError registers a hook fired once per completion that ultimately
// fails, after retries are spent. Must be set before the first Complete.
func (c *HTTPClient) OnError(fn func()) {
	c.onError = fn
}

func (c *HTTPClient) fail(err error) error {
	if c.onError != nil {
		c.onError()
	}
	return err
}

type httpCompletion struct {
	Text         string             `json:"text"`
	Alternatives []TokenAlternative `json:"alternatives"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Completion, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Completion{}, c.fail(fmt.Errorf("marshal request: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Completion{}, c.fail(ctx.Err())
			case <-time.After(retryBackoff(attempt, retryBaseDelay, retryMaxDelay)):
			}
		}

		out, retryable, err := c.completeOnce(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable {
			return Completion{}, c.fail(err)
		}
	}
	return Completion{}, c.fail(fmt.Errorf("llm request failed after %d attempts: %w", maxAttempts, lastErr))
}

func (c *HTTPClient) completeOnce(ctx context.Context, payload []byte) (Completion, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, false, ctx.Err()
		}
		return Completion{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("llm http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		return Completion{}, isRetryableStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Completion{}, true, fmt.Errorf("read response: %w", err)
	}

	var out httpCompletion
	if err := json.Unmarshal(body, &out); err != nil {
		// Tolerate providers that answer with bare text.
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Completion{}, false, fmt.Errorf("decode response: %w", err)
		}
		return Completion{Text: text}, false, nil
	}
	return Completion{Text: out.Text, Alternatives: out.Alternatives}, false, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryBackoff computes a deterministic capped backoff duration.
func retryBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
