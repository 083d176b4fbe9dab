package cashclosehttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/cashclose/internal/cashclose"
	"github.com/odyssey-erp/cashclose/internal/platform/httpx"
)

const defaultBodyLimit = 1 << 20

type ledgerService interface {
	GetDocument(ctx context.Context, tenant string) (*cashclose.Document, error)
	GetClosingsForDate(ctx context.Context, tenant, dateKey string) ([]cashclose.Record, error)
	SaveClosing(ctx context.Context, tenant string, raw any) (cashclose.Record, error)
}

// CompactEnqueuer queues a background compaction of one company's ledger.
type CompactEnqueuer interface {
	EnqueueCompact(ctx context.Context, company string) (string, error)
}

// Handler wires HTTP endpoints for the daily cash-closing ledger.
type Handler struct {
	logger    *slog.Logger
	service   ledgerService
	jobs      CompactEnqueuer
	validate  *validator.Validate
	bodyLimit int64
}

type closingsForDateResponse struct {
	Company  string             `json:"company"`
	Date     string             `json:"date"`
	Closings []cashclose.Record `json:"closings"`
}

type compactResponse struct {
	TaskID string `json:"task_id"`
}

type companyParam struct {
	Company string `validate:"required,max=128"`
}

type dateParam struct {
	Date string `validate:"required,datetime=2006-01-02"`
}

// NewHandler constructs the ledger HTTP handler. jobs may be nil when no queue is configured.
func NewHandler(logger *slog.Logger, service ledgerService, jobs CompactEnqueuer, bodyLimit int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	return &Handler{
		logger:    logger,
		service:   service,
		jobs:      jobs,
		validate:  validator.New(),
		bodyLimit: bodyLimit,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/cierres/{company}", func(r chi.Router) {
		r.Get("/", h.getDocument)
		r.Post("/", h.saveClosing)
		r.Get("/dates/{date}", h.getClosingsForDate)
		r.Post("/compact", h.compact)
	})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	company, ok := h.companyParam(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), company)
	if err != nil {
		h.respondError(w, "get ledger", company, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) getClosingsForDate(w http.ResponseWriter, r *http.Request) {
	company, ok := h.companyParam(w, r)
	if !ok {
		return
	}
	date := strings.TrimSpace(chi.URLParam(r, "date"))
	if err := h.validate.Struct(dateParam{Date: date}); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	closings, err := h.service.GetClosingsForDate(r.Context(), company, date)
	if err != nil {
		h.respondError(w, "get closings for date", company, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closingsForDateResponse{
		Company:  cashclose.NormalizeTenant(company),
		Date:     date,
		Closings: closings,
	})
}

func (h *Handler) saveClosing(w http.ResponseWriter, r *http.Request) {
	company, ok := h.companyParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "")
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	var raw any
	if err := cashclose.DecodeJSON(body, &raw); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	record, err := h.service.SaveClosing(r.Context(), company, raw)
	if err != nil {
		h.respondError(w, "save closing", company, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) compact(w http.ResponseWriter, r *http.Request) {
	company, ok := h.companyParam(w, r)
	if !ok {
		return
	}
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background jobs are not configured")
		return
	}
	taskID, err := h.jobs.EnqueueCompact(r.Context(), cashclose.NormalizeTenant(company))
	if err != nil {
		h.respondError(w, "enqueue compact", company, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, compactResponse{TaskID: taskID})
}

func (h *Handler) companyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	company := cashclose.NormalizeTenant(chi.URLParam(r, "company"))
	if err := h.validate.Struct(companyParam{Company: company}); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", cashclose.ErrInvalidTenant.Error())
		return "", false
	}
	return company, true
}

func (h *Handler) respondError(w http.ResponseWriter, op, company string, err error) {
	switch {
	case errors.Is(err, cashclose.ErrInvalidTenant), errors.Is(err, cashclose.ErrInvalidRecord):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, cashclose.ErrDocumentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, cashclose.ErrCompactionQueued):
		httpx.Problem(w, http.StatusConflict, "Compaction Already Queued", "a compaction for this company is already waiting")
	case errors.Is(err, cashclose.ErrPersistVerificationFailed):
		h.logger.Error(op, slog.String("company", company), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Persist Verification Failed", "the closing could not be confirmed after saving")
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(op, slog.String("company", company), slog.Any("error", err))
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		h.logger.Error(op, slog.String("company", company), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
