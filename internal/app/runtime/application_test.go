package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/internal/config"
	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Store:  config.StoreConfig{Backend: config.BackendMemory, LeadStore: config.LeadStorePrimary},
		Auth:   config.AuthConfig{JWTSecret: "secret", ClaimRatePerSecond: 1, ClaimBurst: 1},
		Engine: config.EngineConfig{
			CapBps:         commission.DefaultCapBps,
			LeadCapacity:   3,
			MatchLimit:     5,
			IdempotencyTTL: time.Hour,
			Rates:          commission.DefaultRates(),
		},
	}
}

func TestNewApplicationWithMemoryStore(t *testing.T) {
	application, err := NewApplication(context.Background(), memoryConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
}

func TestNewApplicationRejectsEmptyRateTable(t *testing.T) {
	cfg := memoryConfig()
	cfg.Engine.Rates = commission.RateTable{}
	if _, err := NewApplication(context.Background(), cfg, logger.NewNop()); err == nil {
		t.Fatalf("expected empty rate table to fail")
	}
}

func TestBuildGateway(t *testing.T) {
	if _, ok := buildGateway(config.PaymentsConfig{}, logger.NewNop()).(payments.SandboxGateway); !ok {
		t.Fatalf("expected sandbox gateway without a base URL")
	}
	gw := buildGateway(config.PaymentsConfig{BaseURL: "https://pay.example.com", APIKey: "k"}, logger.NewNop())
	if _, ok := gw.(*payments.HTTPGateway); !ok {
		t.Fatalf("expected HTTP gateway, got %T", gw)
	}
}
