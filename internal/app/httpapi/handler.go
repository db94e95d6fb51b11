// Package httpapi exposes the marketplace engine over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/devbridge/marketplace/internal/app/metrics"
	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/internal/app/services/escrow"
	"github.com/devbridge/marketplace/internal/app/services/leads"
	"github.com/devbridge/marketplace/internal/app/services/matching"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/internal/idempotency"
	"github.com/devbridge/marketplace/internal/middleware"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Dependencies are the services and settings the handler routes to.
type Dependencies struct {
	Leads      *leads.Service
	Escrow     *escrow.Service
	Matching   *matching.Service
	Calculator *commission.Calculator
	Audit      storage.AuditStore

	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	// JWTSecret verifies bearer tokens. CallbackSecret verifies gateway
	// callbacks; when empty the callback route requires an admin token.
	JWTSecret      []byte
	CallbackSecret []byte

	// ClaimLimiter throttles claim attempts per actor. Nil disables it.
	ClaimLimiter *middleware.RateLimiter
	CORSOrigins  []string

	Log *logger.Logger
}

type handler struct {
	leads    *leads.Service
	escrow   *escrow.Service
	matching *matching.Service
	calc     *commission.Calculator
	audit    storage.AuditStore
	log      *logger.Logger
}

// NewHandler returns the HTTP handler exposing the marketplace API.
func NewHandler(deps Dependencies) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if deps.Calculator == nil {
		deps.Calculator = commission.NewDefault()
	}
	if deps.Idempotency == nil {
		deps.Idempotency = idempotency.NewMemoryStore()
	}
	h := &handler{
		leads:    deps.Leads,
		escrow:   deps.Escrow,
		matching: deps.Matching,
		calc:     deps.Calculator,
		audit:    deps.Audit,
		log:      log,
	}

	idem := idempotency.Middleware(idempotency.Options{
		Store: deps.Idempotency,
		TTL:   deps.IdempotencyTTL,
		Scope: func(r *http.Request) string { return middleware.ActorID(r.Context()) },
		Log:   log,
	})
	limit := func(next http.Handler) http.Handler { return next }
	if deps.ClaimLimiter != nil {
		limit = deps.ClaimLimiter.Handler
	}
	commissioner := middleware.RequireRole(middleware.RoleCommissioner)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Leads.
	r.Handle("/leads/{id}", middleware.RequireRole(middleware.RoleCommissioner, middleware.RoleAdmin)(http.HandlerFunc(h.getLead))).Methods(http.MethodGet)
	r.Handle("/leads/{id}/claim", chain(h.claimLead, commissioner, limit, idem)).Methods(http.MethodPost)
	r.Handle("/leads/{id}/contact", chain(h.contactLead, commissioner)).Methods(http.MethodPost)
	r.Handle("/leads/{id}/progress", chain(h.progressLead, commissioner)).Methods(http.MethodPost)
	r.Handle("/leads/{id}/convert", chain(h.convertLead, commissioner)).Methods(http.MethodPost)
	r.Handle("/commissioners/{id}/leads", chain(h.commissionerLeads, middleware.RequireRole(middleware.RoleCommissioner, middleware.RoleAdmin))).Methods(http.MethodGet)

	// Projects and escrow.
	r.HandleFunc("/projects/{id}", h.getProject).Methods(http.MethodGet)
	r.Handle("/projects/{id}/deposit", chain(h.requestDeposit, middleware.RequireRole(middleware.RoleClient, middleware.RoleAdmin))).Methods(http.MethodPost)
	r.Handle("/projects/{id}/ship", chain(h.shipProject, admin, idem)).Methods(http.MethodPost)
	r.Handle("/projects/{id}/shortlist", chain(h.shortlist, admin)).Methods(http.MethodGet)
	r.Handle("/projects/{id}/commission", chain(h.projectCommission, middleware.RequireRole(middleware.RoleCommissioner, middleware.RoleAdmin))).Methods(http.MethodGet)
	r.Handle("/developers/{id}/account", chain(h.developerAccount, middleware.RequireRole(middleware.RoleDeveloper, middleware.RoleAdmin))).Methods(http.MethodGet)

	skip := []string{"/healthz", "/metrics"}
	if len(deps.CallbackSecret) > 0 {
		r.Handle("/payments/callback", middleware.CallbackSignature(deps.CallbackSecret, log)(http.HandlerFunc(h.paymentCallback))).Methods(http.MethodPost)
		skip = append(skip, "/payments/callback")
	} else {
		r.Handle("/payments/callback", chain(h.paymentCallback, admin)).Methods(http.MethodPost)
	}

	r.HandleFunc("/payouts/preview", h.payoutPreview).Methods(http.MethodGet)
	r.Handle("/audit", chain(h.listAudit, admin)).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(deps.JWTSecret, log, skip)
	cors := middleware.NewCORSMiddleware(deps.CORSOrigins)
	requests := middleware.NewRequestLogger(log)

	var root http.Handler = r
	root = auth.Handler(root)
	root = cors.Handler(root)
	root = metrics.InstrumentHandler(root)
	root = requests.Handler(root)
	return root
}

// chain wraps fn in mws, the first middleware outermost.
func chain(fn http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = fn
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}
