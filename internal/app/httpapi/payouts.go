package httpapi

import (
	"net/http"
	"strconv"

	domcommission "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type payoutPreview struct {
	Value     int64              `json:"value"`
	Tier      domcommission.Tier `json:"tier"`
	HasParent bool               `json:"has_parent"`
	CapBps    int64              `json:"cap_bps"`
	commission.Payout
}

func (h *handler) payoutPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	value, err := strconv.ParseInt(q.Get("value"), 10, 64)
	if err != nil {
		httputil.WriteServiceError(w, r, errors.Validation("value", "must be an integer amount in minor units"))
		return
	}
	tier, ok := domcommission.ParseTier(q.Get("tier"))
	if !ok {
		httputil.WriteServiceError(w, r, errors.Validation("tier", "must be bronze, silver or gold"))
		return
	}
	hasParent := false
	if raw := q.Get("parent"); raw != "" {
		if hasParent, err = strconv.ParseBool(raw); err != nil {
			httputil.WriteServiceError(w, r, errors.Validation("parent", "must be a boolean"))
			return
		}
	}

	payout, err := h.calc.Compute(value, tier, hasParent)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payoutPreview{
		Value:     value,
		Tier:      tier,
		HasParent: hasParent,
		CapBps:    h.calc.CapBps(),
		Payout:    payout,
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.WriteServiceError(w, r, errors.Internal("audit store is not configured", nil))
		return
	}
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		httputil.WriteServiceError(w, r, errors.Validation("subject", "is required"))
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteServiceError(w, r, errors.Validation("limit", "must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.audit.ListAudit(r.Context(), subject, limit)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
