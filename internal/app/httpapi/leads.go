package httpapi

import (
	"net/http"

	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/services/leads"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/internal/middleware"
)

type progressRequest struct {
	Status lead.Status `json:"status"`
}

func (h *handler) getLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leads.Get(r.Context(), pathID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if middleware.Role(r.Context()) != middleware.RoleAdmin && l.IsClaimed() && l.ClaimedBy != middleware.ActorID(r.Context()) {
		httputil.WriteServiceError(w, r, errors.Forbidden("lead is claimed by another commissioner"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *handler) claimLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leads.Claim(r.Context(), pathID(r), middleware.ActorID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *handler) contactLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leads.MarkContacted(r.Context(), pathID(r), middleware.ActorID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *handler) progressLead(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if req.Status == "" {
		httputil.WriteServiceError(w, r, errors.Validation("status", "is required"))
		return
	}
	l, err := h.leads.Progress(r.Context(), pathID(r), middleware.ActorID(r.Context()), req.Status)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *handler) convertLead(w http.ResponseWriter, r *http.Request) {
	var draft leads.ProjectDraft
	if err := httputil.ReadJSON(r, &draft); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	p, err := h.leads.Convert(r.Context(), pathID(r), middleware.ActorID(r.Context()), draft)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *handler) commissionerLeads(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if middleware.Role(r.Context()) != middleware.RoleAdmin && id != middleware.ActorID(r.Context()) {
		httputil.WriteServiceError(w, r, errors.Forbidden("commissioners may only list their own leads"))
		return
	}
	active, err := h.leads.ListActive(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"leads":    active,
		"capacity": h.leads.Capacity(),
	})
}
