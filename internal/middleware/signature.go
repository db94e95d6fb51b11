package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/pkg/logger"
)

const maxCallbackBody = 64 << 10

// CallbackSignature authenticates payment gateway callbacks by the HMAC in
// payments.SignatureHeader. The body is restored for the next handler.
func CallbackSignature(secret []byte, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("callback-auth")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := httputil.ReadAllStrict(r.Body, maxCallbackBody)
			if err != nil {
				httputil.WriteServiceError(w, r, errors.Validation("body", "callback body too large or unreadable"))
				return
			}
			if !payments.VerifySignature(secret, body, r.Header.Get(payments.SignatureHeader)) {
				log.WithContext(r.Context()).WithField("remote", r.RemoteAddr).Warn("rejected unsigned payment callback")
				httputil.WriteServiceError(w, r, errors.Unauthorized("invalid callback signature"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
