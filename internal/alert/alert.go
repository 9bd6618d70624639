// Package alert delivers human-readable operator notifications.
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Alert is a titled notification about a trading state change.
type Alert struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sink receives alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Send(context.Context, Alert) error { return nil }

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	s.Log.Warn().Str("title", a.Title).Time("at", a.Time).Msg(a.Message)
	return nil
}

// WebhookSink posts alerts as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookSink(url, token string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post alert: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
