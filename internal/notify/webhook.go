package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	senderTimeout     = 10 * time.Second
)

// poster POSTs JSON alerts, retrying throttled and server-side failures with
// a linear backoff.
type poster struct {
	name       string
	client     *http.Client
	attempts   int
	retryDelay time.Duration
}

func newPoster(name string) poster {
	return poster{
		name:       name,
		client:     &http.Client{Timeout: senderTimeout},
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
	}
}

func (p poster) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", p.name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		retry, err := p.once(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", p.name, ctx.Err(), lastErr)
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// once performs one delivery and reports whether a failure is worth
// retrying.
func (p poster) once(ctx context.Context, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s: send request: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("%s: unexpected status %d: %s", p.name, resp.StatusCode, string(respBody))
}
