// Package webhook pushes new-message notifications to agents that
// registered a webhook URL. Delivery is best effort: failures are logged and
// counted, never retried and never reported to the sender.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/metrics"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
	"golang.org/x/time/rate"
)

// EventMessageReceived is the only event sent today.
const EventMessageReceived = "message.received"

// Payload is the JSON body POSTed to a webhook.
type Payload struct {
	Event   string         `json:"event"`
	Message models.Message `json:"message"`
}

// Config tunes the notifier.
type Config struct {
	Timeout       time.Duration
	AllowInsecure bool
	// PerSecond caps deliveries per recipient agent; bursts up to twice that.
	PerSecond float64
}

// Notifier implements relay.Notifier over HTTP.
type Notifier struct {
	client   *http.Client
	cfg      Config
	limiters *cache.Cache
	wg       sync.WaitGroup
	log      *logrus.Entry
}

var _ relay.Notifier = (*Notifier)(nil)

// New returns a notifier. Zero config fields fall back to 10s and 2/s.
func New(cfg Config) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 2
	}
	return &Notifier{
		client: &http.Client{
			Timeout: cfg.Timeout,
			// A redirect could lead to an address ValidateURL would refuse.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:      cfg,
		limiters: cache.New(10*time.Minute, 20*time.Minute),
		log:      logrus.WithField("component", "webhook"),
	}
}

func (n *Notifier) ValidateURL(raw string) error {
	return ValidateURL(raw, n.cfg.AllowInsecure)
}

// MessageCreated delivers in the background.
func (n *Notifier) MessageCreated(recipient models.Agent, msg models.Message) {
	if recipient.WebhookURL == nil || *recipient.WebhookURL == "" {
		return
	}
	if !n.limiter(recipient.ID).Allow() {
		metrics.WebhookDeliveries.WithLabelValues("throttled").Inc()
		n.log.WithField("agent_id", recipient.ID).Warn("Webhook throttled")
		return
	}

	target := *recipient.WebhookURL
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		defer cancel()
		n.deliver(ctx, recipient.ID, target, msg)
	}()
}

// Wait blocks until in-flight deliveries finish or the timeout passes. It
// reports whether everything finished.
func (n *Notifier) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (n *Notifier) deliver(ctx context.Context, agent models.AgentID, target string, msg models.Message) {
	log := n.log.WithFields(logrus.Fields{"agent_id": agent, "message_id": msg.ID})

	if err := n.post(ctx, target, Payload{Event: EventMessageReceived, Message: msg}); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			metrics.WebhookDeliveries.WithLabelValues("status").Inc()
		} else {
			metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		}
		log.WithError(err).Warn("Webhook delivery failed")
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	log.Debug("Webhook delivered")
}

func (n *Notifier) post(ctx context.Context, target string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cex-relay-webhook/1")
	req.Header.Set("X-Relay-Event", payload.Event)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

func (n *Notifier) limiter(agent models.AgentID) *rate.Limiter {
	key := agent.String()
	if l, ok := n.limiters.Get(key); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(n.cfg.PerSecond), max(1, int(n.cfg.PerSecond*2)))
	if err := n.limiters.Add(key, l, cache.DefaultExpiration); err != nil {
		// Lost the race; use the one already stored.
		if existing, ok := n.limiters.Get(key); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
