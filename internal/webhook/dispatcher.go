// Package webhook forwards platform events to an external workflow
// endpoint. Dispatch is fire-and-forget: the triggering request never
// waits on, or learns about, delivery failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Dispatcher struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	initialInterval time.Duration
	maxElapsed      time.Duration

	wg sync.WaitGroup
}

// NewDispatcher returns a dispatcher posting to url. An empty url disables
// dispatch entirely.
func NewDispatcher(url string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		url:             url,
		client:          &http.Client{Timeout: 10 * time.Second},
		log:             log,
		initialInterval: time.Second,
		maxElapsed:      2 * time.Minute,
	}
}

// Dispatch queues one delivery attempt with retries and returns
// immediately.
func (d *Dispatcher) Dispatch(eventType string, payload map[string]any) {
	if d.url == "" {
		return
	}
	ev := Event{Type: eventType, OccurredAt: time.Now().UTC(), Payload: payload}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ev)
	}()
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		d.log.Error().Err(err).Str("event", ev.Type).Msg("webhook: marshal failed")
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	policy.MaxElapsedTime = d.maxElapsed

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		return d.post(body)
	}, policy)
	if err != nil {
		d.log.Warn().Err(err).Str("event", ev.Type).Int("attempts", attempt).Msg("webhook: delivery gave up")
		return
	}
	d.log.Debug().Str("event", ev.Type).Int("attempts", attempt).Msg("webhook: delivered")
}

func (d *Dispatcher) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The receiver rejected the payload; retrying will not help.
		return backoff.Permanent(fmt.Errorf("webhook: receiver returned %d", resp.StatusCode))
	}
	return fmt.Errorf("webhook: receiver returned %d", resp.StatusCode)
}
