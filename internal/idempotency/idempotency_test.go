package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/pkg/logger"
)

func newHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `}`))
	})
}

func do(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/leads/l1/claim", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysFirstResponse(t *testing.T) {
	var calls int32
	h := Middleware(Options{Store: NewMemoryStore(), Log: logger.NewNop()})(newHandler(&calls, http.StatusOK))

	first := do(h, "k1", `{}`)
	second := do(h, "k1", `{}`)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMiddlewareRequiresKey(t *testing.T) {
	var calls int32
	h := Middleware(Options{Store: NewMemoryStore(), Log: logger.NewNop()})(newHandler(&calls, http.StatusOK))

	rec := do(h, "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestMiddlewareRejectsDifferentBody(t *testing.T) {
	var calls int32
	h := Middleware(Options{Store: NewMemoryStore(), Log: logger.NewNop()})(newHandler(&calls, http.StatusOK))

	do(h, "k1", `{"a":1}`)
	rec := do(h, "k1", `{"a":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMiddlewareReleasesOnServerError(t *testing.T) {
	var calls int32
	h := Middleware(Options{Store: NewMemoryStore(), Log: logger.NewNop()})(newHandler(&calls, http.StatusInternalServerError))

	do(h, "k1", `{}`)
	do(h, "k1", `{}`)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "failed requests must be retryable")
}

func TestMiddlewareStoresClientErrors(t *testing.T) {
	var calls int32
	h := Middleware(Options{Store: NewMemoryStore(), Log: logger.NewNop()})(newHandler(&calls, http.StatusConflict))

	do(h, "k1", `{}`)
	rec := do(h, "k1", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, store.Reserve(ctx, "k", "h", time.Minute))
	assert.True(t, errors.IsConflict(store.Reserve(ctx, "k", "h", time.Minute)))

	now = now.Add(2 * time.Minute)
	rec, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, "idem-test:")
	key := "k-" + time.Now().Format("150405.000000")
	defer store.Release(ctx, key)

	require.NoError(t, store.Reserve(ctx, key, "hash", time.Minute))
	assert.True(t, errors.IsConflict(store.Reserve(ctx, key, "hash", time.Minute)))
	require.NoError(t, store.Complete(ctx, key, http.StatusCreated, []byte(`{"ok":true}`), time.Minute))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "hash", rec.RequestHash)
	assert.Equal(t, http.StatusCreated, rec.ResponseCode)
}
