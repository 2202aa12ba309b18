/*
handlers.go - HTTP API handlers for the invoicing engine

ENDPOINTS:
  Operations:
    POST   /api/operations                       Record a lifecycle event
    GET    /api/operations?clientId=&serviceId=  Operation history

  Invoices:
    POST   /api/invoices/generate                Generate a period's invoices
    GET    /api/invoices/{clientId}/{year}/{month}  Fetch one invoice
    GET    /api/invoices                         Filtered, paginated listing

  Misc:
    GET    /api/health                           Liveness probe

ERROR HANDLING:
  - 400: input-shape errors (with field list), transition/date rejections
  - 404: invoice not found
  - 500: persistence failures
  Per-client generation failures are data, not errors: GenerateInvoices
  always answers 200 with the period report.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/invoicing-engine/billing"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Appender *billing.Appender
	Builder  *billing.Builder
	Store    billing.Store

	log *zap.SugaredLogger
}

// NewHandler creates a new handler wired to the engine.
func NewHandler(appender *billing.Appender, builder *billing.Builder, store billing.Store, log *zap.SugaredLogger) *Handler {
	return &Handler{Appender: appender, Builder: builder, Store: store, log: log}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// AppendOperation handles POST /api/operations.
func (h *Handler) AppendOperation(w http.ResponseWriter, r *http.Request) {
	var req AppendOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	appendReq, errs := parseAppendRequest(req)
	if len(errs) > 0 {
		writeError(w, http.StatusBadRequest, errs.Error(), []billing.FieldError(errs))
		return
	}

	id, err := h.Appender.Append(r.Context(), appendReq)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: string(id)})
}

// ListOperations handles GET /api/operations.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	clientID := billing.ClientID(r.URL.Query().Get("clientId"))
	serviceID := billing.ServiceID(r.URL.Query().Get("serviceId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId query parameter is required", nil)
		return
	}

	ops, err := h.Store.ListOperations(r.Context(), clientID, serviceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]OperationDTO, 0, len(ops))
	for _, op := range ops {
		dtos = append(dtos, toOperationDTO(op))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// parseAppendRequest converts the wire shape into a domain request. Parse
// failures are reported as field errors so they merge with the engine's
// own shape validation.
func parseAppendRequest(req AppendOperationRequest) (billing.AppendRequest, billing.ValidationErrors) {
	var errs billing.ValidationErrors

	out := billing.AppendRequest{
		ClientID:  billing.ClientID(req.ClientID),
		ServiceID: billing.ServiceID(req.ServiceID),
		Quantity:  req.Quantity,
	}

	if typ, ok := billing.ParseOperationType(req.Type); ok {
		out.Type = typ
	} else {
		errs = append(errs, billing.FieldError{Field: "type", Message: "must be one of start, suspend, resume, end"})
	}

	if req.Date == "" {
		errs = append(errs, billing.FieldError{Field: "date", Message: "required"})
	} else if date, err := billing.ParseDate(req.Date); err != nil {
		errs = append(errs, billing.FieldError{Field: "date", Message: "must be a calendar date (YYYY-MM-DD)"})
	} else {
		out.Date = date
	}

	if req.PricePerDay != nil {
		price, err := decimal.NewFromString(*req.PricePerDay)
		if err != nil {
			errs = append(errs, billing.FieldError{Field: "pricePerDay", Message: "must be a decimal number"})
		} else {
			out.PricePerDay = &price
		}
	}

	return out, errs
}

// =============================================================================
// INVOICES
// =============================================================================

// GenerateInvoices handles POST /api/invoices/generate.
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	period := billing.Period{Year: req.Year, Month: time.Month(req.Month)}
	report, err := h.Builder.GenerateInvoices(r.Context(), period)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodReportDTO(report))
}

// GetInvoice handles GET /api/invoices/{clientId}/{year}/{month}.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	clientID := billing.ClientID(chi.URLParam(r, "clientId"))
	year, errY := strconv.Atoi(chi.URLParam(r, "year"))
	month, errM := strconv.Atoi(chi.URLParam(r, "month"))
	if errY != nil || errM != nil {
		writeError(w, http.StatusBadRequest, "year and month must be integers", nil)
		return
	}

	inv, err := h.Store.GetInvoice(r.Context(), clientID, billing.Period{Year: year, Month: time.Month(month)})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if inv == nil {
		h.writeDomainError(w, billing.ErrInvoiceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// ListInvoices handles GET /api/invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter billing.InvoiceFilter
	if v := q.Get("clientId"); v != "" {
		clientID := billing.ClientID(v)
		filter.ClientID = &clientID
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer", nil)
			return
		}
		filter.Year = &year
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "month must be between 1 and 12", nil)
			return
		}
		month := time.Month(m)
		filter.Month = &month
	}

	page := parsePositiveInt(q.Get("page"), 1)
	pageSize := parsePositiveInt(q.Get("pageSize"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	result, err := h.Store.ListInvoices(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dto := PageDTO{
		Items:      []InvoiceDTO{},
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalCount: result.TotalCount,
	}
	for _, inv := range result.Invoices {
		dto.Items = append(dto.Items, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, dto)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verrs billing.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, verrs.Error(), []billing.FieldError(verrs))
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		h.log.Errorw("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

func parsePositiveInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
