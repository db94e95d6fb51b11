// Package payments requests payable deposit links from the payment gateway
// and authenticates its callbacks.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of a callback body.
const SignatureHeader = "X-Payment-Signature"

// PaymentRequest asks the gateway for a deposit link.
type PaymentRequest struct {
	ProjectID   string `json:"project_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Payer       string `json:"payer"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// PaymentLink is the gateway's answer: a reference to match the callback
// against and a URL the payer visits.
type PaymentLink struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// Gateway creates payment links.
type Gateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentLink, error)
}

// Config configures the HTTP gateway.
type Config struct {
	BaseURL     string
	APIKey      string
	Currency    string
	CallbackURL string
	Timeout     time.Duration
	MaxRetries  int
	Breaker     BreakerConfig
}

// HTTPGateway talks to a REST payment provider through a circuit breaker.
type HTTPGateway struct {
	client  *httputil.Client
	breaker *Breaker
	cfg     Config
	log     *logger.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway constructs a gateway client.
func NewHTTPGateway(cfg Config, log *logger.Logger) *HTTPGateway {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(from, to CircuitState) {
		log.WithField("from", from.String()).WithField("to", to.String()).Warn("payment gateway circuit changed state")
	}
	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.APIKey,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	return &HTTPGateway{
		client:  client,
		breaker: NewBreaker(breakerCfg),
		cfg:     cfg,
		log:     log,
	}
}

// CreatePayment requests a deposit link.
func (g *HTTPGateway) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentLink, error) {
	if err := g.breaker.Allow(); err != nil {
		return PaymentLink{}, errors.Internal("payment gateway unavailable", err)
	}
	if req.Currency == "" {
		req.Currency = g.cfg.Currency
	}
	if req.CallbackURL == "" {
		req.CallbackURL = g.cfg.CallbackURL
	}

	resp, err := g.client.Post(ctx, "/payments", req)
	if err != nil {
		g.breaker.RecordFailure()
		return PaymentLink{}, errors.Internal("payment gateway request failed", err)
	}
	var link PaymentLink
	if err := httputil.DecodeResponse(resp, &link); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			g.breaker.RecordFailure()
		}
		return PaymentLink{}, errors.Internal("payment gateway rejected request", err)
	}
	g.breaker.RecordSuccess()

	if strings.TrimSpace(link.Reference) == "" {
		return PaymentLink{}, errors.Internal("payment gateway returned no reference", nil)
	}
	g.log.WithField("project_id", req.ProjectID).
		WithField("reference", link.Reference).
		Info("payment link created")
	return link, nil
}

// SandboxGateway issues local references without calling a provider.
type SandboxGateway struct {
	BaseURL string
}

var _ Gateway = SandboxGateway{}

// CreatePayment returns a fresh reference and a local checkout URL.
func (g SandboxGateway) CreatePayment(_ context.Context, req PaymentRequest) (PaymentLink, error) {
	ref := "sandbox_" + uuid.NewString()
	base := strings.TrimRight(g.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	return PaymentLink{
		Reference: ref,
		URL:       fmt.Sprintf("%s/sandbox/checkout/%s?amount=%d", base, ref, req.Amount),
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
