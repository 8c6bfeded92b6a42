package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EventIDHeader carries the event id so receivers can de-duplicate retries.
const EventIDHeader = "X-Audit-Event-ID"

const (
	defaultWebhookTimeout = 2 * time.Second
	maxErrorBody          = 200
)

var defaultBackoffs = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// statusError is a non-2xx response from the receiver.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook status %d body=%q", e.code, e.body)
}

// retryable reports whether another attempt could succeed. Client errors
// other than timeouts and rate limiting are final.
func (e *statusError) retryable() bool {
	switch {
	case e.code == http.StatusRequestTimeout, e.code == http.StatusTooManyRequests:
		return true
	case e.code >= 400 && e.code < 500:
		return false
	}
	return true
}

// WebhookSink POSTs each event as JSON, retrying transport failures and
// retryable statuses after each backoff step.
type WebhookSink struct {
	url      string
	headers  http.Header
	client   *http.Client
	backoffs []time.Duration
}

// NewWebhookSink returns a sink posting to url with the extra headers. A
// non-positive timeout applies two seconds per attempt.
func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	return &WebhookSink{
		url:      url,
		headers:  h,
		client:   &http.Client{Timeout: timeout},
		backoffs: defaultBackoffs,
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	for attempt := 0; ; attempt++ {
		err = s.post(ctx, ev.ID, payload)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if attempt == len(s.backoffs) {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}
		if werr := sleepCtx(ctx, s.backoffs[attempt]); werr != nil {
			return werr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebhookSink) post(ctx context.Context, id string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = s.headers.Clone()
	req.Header.Set(EventIDHeader, id)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	if len(body) > maxErrorBody {
		body = append(body[:maxErrorBody], "..."...)
	}
	return &statusError{code: resp.StatusCode, body: string(body)}
}

func (s *WebhookSink) Close(context.Context) error { return nil }
