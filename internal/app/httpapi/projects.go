package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/httputil"
	"github.com/devbridge/marketplace/internal/middleware"
)

// Gateway callback statuses. Anything but a success is acknowledged and ignored.
const (
	callbackSucceeded = "succeeded"
)

type paymentCallback struct {
	ProjectID string `json:"project_id"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status,omitempty"`
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.visibleProject(r.Context(), pathID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) requestDeposit(w http.ResponseWriter, r *http.Request) {
	if _, err := h.visibleProject(r.Context(), pathID(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	req, err := h.escrow.RequestDeposit(r.Context(), pathID(r), middleware.ActorID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, req)
}

func (h *handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb paymentCallback
	if err := httputil.ReadJSON(r, &cb); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if status := strings.ToLower(cb.Status); status != "" && status != callbackSucceeded {
		h.log.WithContext(r.Context()).
			WithField("project_id", cb.ProjectID).
			WithField("status", cb.Status).
			Info("ignoring unsuccessful payment callback")
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	p, err := h.escrow.ConfirmDeposit(r.Context(), cb.ProjectID, cb.Reference, cb.Amount)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) shipProject(w http.ResponseWriter, r *http.Request) {
	res, err := h.escrow.Ship(r.Context(), pathID(r), middleware.ActorID(r.Context()))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) shortlist(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matching.Shortlist(r.Context(), pathID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (h *handler) projectCommission(w http.ResponseWriter, r *http.Request) {
	if _, err := h.visibleProject(r.Context(), pathID(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	txn, err := h.escrow.Commission(r.Context(), pathID(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txn)
}

func (h *handler) developerAccount(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if middleware.Role(r.Context()) != middleware.RoleAdmin && id != middleware.ActorID(r.Context()) {
		httputil.WriteServiceError(w, r, errors.Forbidden("developers may only read their own account"))
		return
	}
	acct, err := h.escrow.DeveloperAccount(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

// visibleProject loads a project the caller is a party to. Admins see all.
func (h *handler) visibleProject(ctx context.Context, id string) (project.Project, error) {
	p, err := h.escrow.Get(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	actor := middleware.ActorID(ctx)
	var party string
	switch middleware.Role(ctx) {
	case middleware.RoleAdmin:
		return p, nil
	case middleware.RoleClient:
		party = p.ClientID
	case middleware.RoleCommissioner:
		party = p.CommissionerID
	case middleware.RoleDeveloper:
		party = p.DeveloperID
	}
	if party == "" || party != actor {
		return project.Project{}, errors.Forbidden("project " + id + " is not visible to " + actor)
	}
	return p, nil
}
