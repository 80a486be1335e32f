package settlement

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/estimation"
	"github.com/wattshare/wattshare/internal/platform/httpx"
)

type settlementService interface {
	Preview(ctx context.Context, in PreviewInput) (estimation.Result, error)
	CreateMoveOut(ctx context.Context, in CreateMoveOutInput) (billing.MoveSettlement, error)
	RegisterIncoming(ctx context.Context, id uuid.UUID, in TenantInput) (billing.MoveSettlement, error)
	SetStatus(ctx context.Context, id uuid.UUID, status billing.SettlementStatus) (billing.MoveSettlement, error)
	Rollback(ctx context.Context, id uuid.UUID, actor string) (billing.MoveSettlement, error)
	Get(ctx context.Context, id uuid.UUID) (billing.MoveSettlement, error)
	ListByUnit(ctx context.Context, unitID uuid.UUID) ([]billing.MoveSettlement, error)
}

// Handler manages settlement endpoints.
type Handler struct {
	logger  *slog.Logger
	service settlementService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service settlementService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/settlements", func(r chi.Router) {
		r.Post("/preview", h.preview)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/incoming", h.registerIncoming)
			r.Post("/status", h.setStatus)
			r.Post("/rollback", h.rollback)
		})
	})
	r.Get("/units/{id}/settlements", h.listByUnit)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var in PreviewInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Preview(r.Context(), in)
	if err != nil {
		h.fail(w, "preview settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateMoveOutInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.CreateMoveOut(r.Context(), in)
	if err != nil {
		h.fail(w, "create settlement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) registerIncoming(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in TenantInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.RegisterIncoming(r.Context(), id, in)
	if err != nil {
		h.fail(w, "register incoming tenant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type statusRequest struct {
	Status billing.SettlementStatus `json:"status"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, "set settlement status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type rollbackRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	out, err := h.service.Rollback(r.Context(), id, req.Actor)
	if err != nil {
		h.fail(w, "rollback settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listByUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListByUnit(r.Context(), id)
	if err != nil {
		h.fail(w, "list settlements", err)
		return
	}
	if items == nil {
		items = []billing.MoveSettlement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
