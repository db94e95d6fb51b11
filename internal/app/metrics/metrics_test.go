package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/":                       "/",
		"/healthz":                "/healthz",
		"/leads/abc/claim":        "/leads/:id/claim",
		"/projects/p-1":           "/projects/:id",
		"/commissioners/c1/leads": "/commissioners/:id/leads",
		"/payouts/preview":        "/payouts/preview",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	SetEscrowHeld(4200)
	RecordLeadClaim("capacity")
	RecordPayout(100, 0)
	SetLeadCounts(map[string]int{"new": 7})

	body := scrape(t)
	for _, want := range []string{
		"marketplace_escrow_held_cents 4200",
		`marketplace_lead_claims_total{result="capacity"} 1`,
		`marketplace_commission_payout_cents_total{kind="direct"} 100`,
		`marketplace_leads_by_status{status="new"} 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, `kind="override"`) {
		t.Errorf("zero override payout should not create a series")
	}
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/leads/l9/claim", nil))

	if !strings.Contains(scrape(t), `marketplace_http_requests_total{method="POST",path="/leads/:id/claim",status="409"} 1`) {
		t.Fatalf("request counter not recorded")
	}
}
