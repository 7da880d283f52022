package sinks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alphastream/streamclient/internal/errs"
	"github.com/alphastream/streamclient/internal/event"
	"github.com/alphastream/streamclient/internal/httpkit"
)

// Webhook POSTs each event as JSON to a configured destination, using
// a client from httpkit.NewClient for timeouts, User-Agent, and connection
// pooling.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhook constructs a Webhook sink posting to url. timeout bounds
// each individual POST; zero defaults to 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:     url,
		client:  httpkit.NewClient(httpkit.WithTimeout(timeout)),
		timeout: timeout,
	}
}

// Write posts e to the configured URL. A non-2xx response or transport
// failure is returned as an ErrSink-wrapped error; the Bus logs and
// swallows it without affecting other sinks.
func (w *Webhook) Write(e event.Event) error {
	body, err := marshalEvent(e)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", errs.ErrSink, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errs.ErrSink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post: %v", errs.ErrSink, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned status %d", errs.ErrSink, resp.StatusCode)
	}
	return nil
}
