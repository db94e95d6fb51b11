// Package middleware provides HTTP middleware for the marketplace API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Roles carried in access tokens.
const (
	RoleAdmin        = "admin"
	RoleCommissioner = "commissioner"
	RoleClient       = "client"
	RoleDeveloper    = "developer"
)

type contextKey string

const (
	actorKey contextKey = "actor_id"
	roleKey  contextKey = "role"
)

// Claims are the access token claims. The subject is the actor id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates HS256 bearer tokens.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the middleware. Requests to skipPaths pass
// through unauthenticated.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{secret: secret, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			m.respondError(w, r, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithActor(r.Context(), claims.Subject, claims.Role)
		m.log.WithContext(ctx).
			WithField("actor_id", claims.Subject).
			WithField("role", claims.Role).
			Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, errors.Unauthorized("invalid token").WithDetails("reason", err.Error())
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.Unauthorized("invalid token")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	m.log.WithContext(r.Context()).
		WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		Warn("authentication failed")
	httputil.WriteServiceError(w, r, err)
}

// IssueToken signs an access token for actorID. Used by the CLI and tests.
func IssueToken(secret []byte, actorID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actorID)
	return context.WithValue(ctx, roleKey, role)
}

// ActorID returns the authenticated actor id, or "".
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// Role returns the authenticated actor's role, or "".
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorID(r.Context()) == "" {
				httputil.WriteServiceError(w, r, errors.Unauthorized("authentication required"))
				return
			}
			if !allowed[Role(r.Context())] {
				httputil.WriteServiceError(w, r, errors.Forbidden("role "+Role(r.Context())+" may not call this endpoint"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
