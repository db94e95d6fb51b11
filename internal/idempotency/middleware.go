package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Header names.
const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

const maxKeyLength = 255

// Options configures the middleware.
type Options struct {
	Store Store
	TTL   time.Duration
	// Scope namespaces keys per caller, usually the authenticated actor id.
	Scope func(r *http.Request) string
	// WriteError renders a rejected request. Defaults to httputil.WriteServiceError.
	WriteError func(w http.ResponseWriter, r *http.Request, err error)
	Log        *logger.Logger
}

// Middleware requires an Idempotency-Key header on wrapped routes, replays
// the stored response for repeated keys and rejects keys reused with a
// different request body.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefault("idempotency")
	}
	if opts.WriteError == nil {
		opts.WriteError = httputil.WriteServiceError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" || len(key) > maxKeyLength {
				opts.WriteError(w, r, errors.Validation(HeaderKey, "header is required and must be at most 255 characters"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				opts.WriteError(w, r, errors.Validation("body", "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := ""
			if opts.Scope != nil {
				scope = opts.Scope(r)
			}
			storeKey := scope + "|" + r.Method + " " + r.URL.Path + "|" + key
			hash := hashRequest(r.Method, r.URL.Path, body)
			ctx := r.Context()

			existing, err := opts.Store.Get(ctx, storeKey)
			if err != nil {
				opts.WriteError(w, r, err)
				return
			}
			if existing != nil {
				switch {
				case existing.RequestHash != "" && existing.RequestHash != hash:
					opts.WriteError(w, r, errors.Conflict("idempotency key reused with a different request"))
				case existing.Status != StatusCompleted:
					opts.WriteError(w, r, errors.Conflict("request with this idempotency key is in progress"))
				default:
					replay(w, existing)
				}
				return
			}

			if err := opts.Store.Reserve(ctx, storeKey, hash, opts.TTL); err != nil {
				opts.WriteError(w, r, err)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := opts.Store.Release(ctx, storeKey); err != nil {
					opts.Log.WithContext(ctx).WithError(err).Warn("release idempotency key")
				}
				return
			}
			if err := opts.Store.Complete(ctx, storeKey, rec.status, rec.body.Bytes(), opts.TTL); err != nil {
				opts.Log.WithContext(ctx).WithError(err).Warn("store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, rec *Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.ResponseCode)
	_, _ = w.Write(rec.ResponseBody)
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method + " " + path + "\n"))
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// recorder forwards the response while keeping a copy of it.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
