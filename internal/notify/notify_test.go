package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/devbridge/marketplace/pkg/logger"
)

type recordingPublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.data = data
	return p.err
}

func TestNATSNotifierPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	n := newNATSNotifier(pub, "")

	evt := Event{Type: EventProjectShipped, Subject: "p1", OccurredAt: time.Now().UTC()}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pub.subject != "marketplace.project.shipped" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var got Event
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Subject != "p1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "", time.Second)
	if err := n.Notify(context.Background(), Event{Type: EventLeadClaimed, Subject: "l1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Type != EventLeadClaimed {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestWebhookNotifierReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "", time.Second)
	if err := n.Notify(context.Background(), Event{Type: EventLeadClaimed}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := stderrors.New("boom")
	var delivered int
	m := Multi{
		Func(func(context.Context, Event) error { return boom }),
		Func(func(context.Context, Event) error { delivered++; return nil }),
		NewLogNotifier(logger.NewNop()),
		nil,
	}
	err := m.Notify(context.Background(), Event{Type: EventLeadClaimed})
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if delivered != 1 {
		t.Fatalf("later notifiers must still run")
	}
}

func TestNATSIntegration(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set; skipping nats integration test")
	}
	conn, err := ConnectNATS(url, "notify-test", logger.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sub, err := conn.SubscribeSync("marketplace.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := NewNATSNotifier(conn, "").Notify(context.Background(), Event{Type: EventLeadClaimed, Subject: "l1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != "marketplace.lead.claimed" {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
}
