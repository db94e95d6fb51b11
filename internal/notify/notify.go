// Package notify delivers engine events to interested parties. Delivery is
// best effort: callers log failures and never change an outcome because of one.
package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Event types.
const (
	EventLeadClaimed      = "lead.claimed"
	EventLeadConverted    = "lead.converted"
	EventDepositRequested = "project.deposit_requested"
	EventDepositConfirmed = "project.deposit_confirmed"
	EventProjectShipped   = "project.shipped"
)

// Event is a notification payload.
type Event struct {
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	Actor      string            `json:"actor,omitempty"`
	Recipients []string          `json:"recipients,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Notifier sends events.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, evt Event) error

func (f Func) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// --- NATS -------------------------------------------------------------------

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events as JSON on <prefix>.<type>.
type NATSNotifier struct {
	pub    publisher
	prefix string
}

// NewNATSNotifier wraps an established connection.
func NewNATSNotifier(conn *nats.Conn, prefix string) *NATSNotifier {
	return newNATSNotifier(conn, prefix)
}

func newNATSNotifier(pub publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "marketplace"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && log != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
	)
}

func (n *NATSNotifier) Notify(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.pub.Publish(n.prefix+"."+evt.Type, data); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// --- Webhook ----------------------------------------------------------------

// WebhookNotifier posts events to an HTTP endpoint.
type WebhookNotifier struct {
	client *httputil.Client
	path   string
}

// NewWebhookNotifier posts to url.
func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: url, Token: token, Timeout: timeout}),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, evt Event) error {
	resp, err := w.client.Post(ctx, w.path, evt)
	if err != nil {
		return err
	}
	return httputil.DecodeResponse(resp, nil)
}

// --- Log --------------------------------------------------------------------

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, evt Event) error {
	l.log.WithContext(ctx).
		WithField("event", evt.Type).
		WithField("subject", evt.Subject).
		WithField("recipients", evt.Recipients).
		Info("notification")
	return nil
}

// --- Fan-out ----------------------------------------------------------------

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
