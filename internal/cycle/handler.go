package cycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/export"
	"github.com/wattshare/wattshare/internal/platform/httpx"
	"github.com/wattshare/wattshare/internal/usageimport"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxUploadBytes  = 10 << 20
)

type cycleService interface {
	RegisterBuildingBill(ctx context.Context, in BuildingBillInput) (RegisterResult, error)
	AllocateCycle(ctx context.Context, buildingBillID uuid.UUID, rows []UsageRow) (Allocation, error)
	Statement(ctx context.Context, buildingBillID uuid.UUID) (export.Statement, error)
}

// Enqueuer queues allocation runs for the background worker.
type Enqueuer interface {
	EnqueueAllocation(ctx context.Context, buildingBillID uuid.UUID, rows []UsageRow) (string, error)
}

// Handler exposes building bill registration, allocation and statements.
type Handler struct {
	logger   *slog.Logger
	service  cycleService
	enqueuer Enqueuer
}

// NewHandler builds Handler instance. enqueuer may be nil, in which case
// asynchronous allocation requests are refused.
func NewHandler(logger *slog.Logger, service cycleService, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers building bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/building-bills", func(r chi.Router) {
		r.Post("/", h.register)
		r.Post("/{id}/allocations", h.allocate)
		r.Get("/{id}/statement.{format}", h.statement)
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in BuildingBillInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RegisterBuildingBill(r.Context(), in)
	if err != nil {
		h.fail(w, "register building bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

type allocationPayload struct {
	Rows []UsageRow `json:"rows"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	id, ok := buildingBillID(w, r)
	if !ok {
		return
	}
	rows, err := readUsageRows(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if r.URL.Query().Get("async") == "1" {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background allocation is not configured")
			return
		}
		taskID, err := h.enqueuer.EnqueueAllocation(r.Context(), id, rows)
		if err != nil {
			h.fail(w, "enqueue allocation", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		return
	}

	res, err := h.service.AllocateCycle(r.Context(), id, rows)
	if err != nil {
		h.fail(w, "allocate cycle", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

// readUsageRows accepts a JSON body, a raw XLSX body or a multipart upload
// with the workbook in the "file" field.
func readUsageRows(r *http.Request) ([]UsageRow, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		workbook io.Reader
		sheet    = r.URL.Query().Get("sheet")
	)
	switch mediaType {
	case contentTypeXLSX:
		workbook = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", httpx.ErrMalformedBody, err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: file field: %v", httpx.ErrMalformedBody, err)
		}
		defer file.Close()
		workbook = file
		if v := r.FormValue("sheet"); v != "" {
			sheet = v
		}
	default:
		var payload allocationPayload
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			return nil, err
		}
		return payload.Rows, nil
	}

	parsed, err := usageimport.ParseXLSX(workbook, usageimport.Options{Sheet: sheet})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidInput, err)
	}
	rows := make([]UsageRow, len(parsed))
	for i, p := range parsed {
		rows[i] = UsageRow{UnitNumber: p.UnitNumber, Usage: p.Usage}
	}
	return rows, nil
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, ok := buildingBillID(w, r)
	if !ok {
		return
	}
	format := chi.URLParam(r, "format")
	var (
		contentType string
		render      func(export.Statement) ([]byte, error)
	)
	switch format {
	case "xlsx":
		contentType, render = contentTypeXLSX, export.StatementXLSX
	case "pdf":
		contentType, render = "application/pdf", export.StatementPDF
	case "csv":
		contentType = "text/csv; charset=utf-8"
	default:
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unsupported statement format %q", format))
		return
	}

	stmt, err := h.service.Statement(r.Context(), id)
	if err != nil {
		h.fail(w, "load statement", err)
		return
	}
	filename := fmt.Sprintf("statement-%s.%s", stmt.BuildingBill.Period(), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if render == nil {
		w.Header().Set("Content-Type", contentType)
		if err := export.WriteStatementCSV(w, stmt); err != nil {
			h.logger.Error("write statement csv", slog.Any("error", err))
		}
		return
	}
	data, err := render(stmt)
	if err != nil {
		w.Header().Del("Content-Disposition")
		h.fail(w, "render statement", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func buildingBillID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "building bill id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else if !errors.Is(err, billing.ErrInvalidInput) {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
