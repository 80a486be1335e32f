package unitbill

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/platform/httpx"
)

type editService interface {
	Edit(ctx context.Context, unitBillID, buildingBillID uuid.UUID, req EditRequest) (EditResult, error)
	History(ctx context.Context, unitBillID uuid.UUID) ([]billing.BillHistory, error)
}

// Handler exposes unit bill edits over HTTP.
type Handler struct {
	logger  *slog.Logger
	service editService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service editService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers unit bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/unit-bills/{id}", func(r chi.Router) {
		r.Put("/", h.edit)
		r.Get("/history", h.history)
	})
}

type editPayload struct {
	BuildingBillID uuid.UUID `json:"building_bill_id"`
	EditRequest
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "unit bill id must be a UUID")
		return
	}
	var payload editPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Edit(r.Context(), id, payload.BuildingBillID, payload.EditRequest)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("edit unit bill", slog.String("unit_bill_id", id.String()), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "unit bill id must be a UUID")
		return
	}
	rows, err := h.service.History(r.Context(), id)
	if err != nil {
		h.logger.Error("list unit bill history", slog.String("unit_bill_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []billing.BillHistory{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows})
}
