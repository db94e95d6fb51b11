package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/devbridge/marketplace/internal/app/services/commission"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPayoutCommand(t *testing.T) {
	out, err := execute(t, "payout", "--value", "100000", "--tier", "gold", "--parent")
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	var payout commission.Payout
	if err := json.Unmarshal([]byte(out), &payout); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if payout.DirectAmount != 30000 || payout.OverrideAmount != 5000 || payout.AgencyNet != 65000 {
		t.Fatalf("unexpected payout: %+v", payout)
	}
}

func TestPayoutCommandRejectsUnknownTier(t *testing.T) {
	if _, err := execute(t, "payout", "--value", "100", "--tier", "platinum"); err == nil {
		t.Fatalf("expected unknown tier to fail")
	}
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "alice", "--role", "admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", out)
	}

	if _, err := execute(t, "token", "alice", "--role", "root"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
}
