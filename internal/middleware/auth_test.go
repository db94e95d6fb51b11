package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devbridge/marketplace/pkg/logger"
)

var testSecret = []byte("test-secret")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewNop(), []string{"/healthz"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_RejectsBadHeaders(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewNop(), nil).Handler(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/leads/1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	var actor, role string
	handler := NewAuthMiddleware(testSecret, logger.NewNop(), nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorID(r.Context())
		role = Role(r.Context())
	}))

	token, err := IssueToken(testSecret, "alice", RoleCommissioner, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest("GET", "/leads/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if actor != "alice" || role != RoleCommissioner {
		t.Fatalf("actor = %q role = %q", actor, role)
	}
}

func TestAuthMiddleware_Handler_ExpiredToken(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewNop(), nil).Handler(okHandler())

	token, err := IssueToken(testSecret, "alice", RoleCommissioner, -time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest("GET", "/leads/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_WrongKeyAndMethod(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewNop(), nil).Handler(okHandler())

	wrongKey, _ := IssueToken([]byte("other"), "alice", RoleAdmin, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{"wrong key": wrongKey, "alg none": none} {
		req := httptest.NewRequest("GET", "/leads/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: Status code = %d, want %d", name, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(okHandler())

	cases := []struct {
		actor, role string
		want        int
	}{
		{"", "", http.StatusUnauthorized},
		{"bob", RoleCommissioner, http.StatusForbidden},
		{"root", RoleAdmin, http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest("POST", "/projects/p1/ship", nil)
		if c.actor != "" {
			req = req.WithContext(WithActor(req.Context(), c.actor, c.role))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("role %q: Status code = %d, want %d", c.role, rec.Code, c.want)
		}
	}
}
