package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/pkg/logger"
)

func TestHTTPGatewayCreatePayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing api key")
		}
		var req PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Amount != 5000 || req.Currency != "EUR" || req.CallbackURL != "https://cb" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(PaymentLink{Reference: "ref-1", URL: "https://pay/ref-1"})
	}))
	defer server.Close()

	gw := NewHTTPGateway(Config{BaseURL: server.URL, APIKey: "key", Currency: "EUR", CallbackURL: "https://cb"}, logger.NewNop())
	link, err := gw.CreatePayment(context.Background(), PaymentRequest{ProjectID: "p1", Amount: 5000})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if link.Reference != "ref-1" {
		t.Fatalf("unexpected link: %+v", link)
	}
}

func TestHTTPGatewayOpensCircuit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gw := NewHTTPGateway(Config{
		BaseURL:    server.URL,
		MaxRetries: -1,
		Breaker:    BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour},
	}, logger.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := gw.CreatePayment(context.Background(), PaymentRequest{Amount: 1}); !errors.IsInternal(err) {
			t.Fatalf("attempt %d: expected internal error, got %v", i, err)
		}
	}
	before := atomic.LoadInt32(&calls)
	_, err := gw.CreatePayment(context.Background(), PaymentRequest{Amount: 1})
	if err == nil || !strings.Contains(err.Error(), ErrCircuitOpen.Error()) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatalf("open circuit must not reach the gateway")
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be allowed: %v", err)
	}
	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestSandboxGateway(t *testing.T) {
	link, err := SandboxGateway{}.CreatePayment(context.Background(), PaymentRequest{Amount: 100})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if !strings.HasPrefix(link.Reference, "sandbox_") || !strings.Contains(link.URL, link.Reference) {
		t.Fatalf("unexpected link: %+v", link)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"reference":"ref-1","amount":100}`)
	sig := Sign(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(secret, []byte(`{"reference":"ref-1","amount":999}`), sig) {
		t.Fatal("tampered body accepted")
	}
	if VerifySignature(secret, body, "zz") {
		t.Fatal("malformed signature accepted")
	}
	if VerifySignature(nil, body, sig) {
		t.Fatal("empty secret accepted")
	}
}
