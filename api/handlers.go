/*
handlers.go - HTTP API handlers for the hours/tickets bank engine

PURPOSE:
  Exposes the bank engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Ledger:
    GET    /api/companies/{companyID}/ledger/{year}/{month}             Consolidated entry (computed on first access)
    POST   /api/companies/{companyID}/ledger/{year}/{month}/recalculate Forced cascade from that month
    GET    /api/companies/{companyID}/ledger/{year}/{month}/segmented   Per-allocation breakdown
    GET    /api/companies/{companyID}/ledger/{year}/{month}/versions    Immutable history

  Adjustments:
    POST   /api/companies/{companyID}/adjustments                 Create (triggers cascade)
    DELETE /api/companies/{companyID}/adjustments/{adjustmentID}  Deactivate (triggers cascade)
    GET    /api/companies/{companyID}/adjustments/{year}/{month}  List for month

  Other:
    GET    /api/companies/{companyID}/allocations
    GET    /api/companies/{companyID}/audit
    GET    /api/healthz

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Concurrent recalculation in flight
  - 422: Contract not configured / rate not configured for the month
  - 502: External data source unavailable
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - recalc.go: Background horizon refresh
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/hoursbank/bank"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *bank.Service
	Adjustments *bank.AdjustmentService
	Audit       bank.AuditLog
}

// NewHandler creates a new handler over the engine facade.
func NewHandler(service *bank.Service, adjustments *bank.AdjustmentService, audit bank.AuditLog) *Handler {
	return &Handler{Service: service, Adjustments: adjustments, Audit: audit}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns the consolidated entry for a company+month,
// computing it (and any earlier uncalculated months) on first access.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.ledgerKey(w, r)
	if !ok {
		return
	}
	entry, err := h.Service.GetOrCalculate(r.Context(), companyID, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerEntryDTO(entry))
}

// RecalculateResponse pairs the refreshed entry with the cascade report.
type RecalculateResponse struct {
	Entry  *LedgerEntryDTO  `json:"entry"`
	Result *RecalcResultDTO `json:"result"`
}

// Recalculate forces a cascade from the month through the present.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.ledgerKey(w, r)
	if !ok {
		return
	}
	var req RecalculateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	entry, result, err := h.Service.Recalculate(r.Context(), companyID, month, req.Reason, req.Actor)
	if err != nil {
		// A halted cascade still committed the months before the halt;
		// report the partial progress alongside the failure.
		var halted *bank.CascadeHaltedError
		if errors.As(err, &halted) {
			writeJSON(w, statusFor(err), struct {
				ErrorResponse
				Result *RecalcResultDTO `json:"result,omitempty"`
			}{
				ErrorResponse: ErrorResponse{Error: "Recalculation halted", Details: err.Error()},
				Result:        recalcResultDTO(result),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{
		Entry:  ledgerEntryDTO(entry),
		Result: recalcResultDTO(result),
	})
}

// GetSegmented returns the per-allocation breakdown of a month.
func (h *Handler) GetSegmented(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.ledgerKey(w, r)
	if !ok {
		return
	}
	segments, err := h.Service.GetSegmented(r.Context(), companyID, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SegmentDTO, len(segments))
	for i, s := range segments {
		dtos[i] = segmentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVersions returns an entry's immutable history, oldest first.
func (h *Handler) GetVersions(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.ledgerKey(w, r)
	if !ok {
		return
	}
	versions, err := h.Service.ListVersions(r.Context(), companyID, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]VersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = versionDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// CreateAdjustment persists a manual adjustment and cascades from its
// month. A halted cascade still returns the persisted adjustment.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	var req CreateAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	month, err := bank.ParseMonthKey(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	var hours bank.Duration
	if req.Hours != "" {
		// Strict parsing: a malformed adjustment quantity is a client
		// error, never a silent zero.
		hours, err = bank.ParseDuration(req.Hours)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hours value", err)
			return
		}
	}

	adj, result, err := h.Adjustments.Create(r.Context(), bank.CreateAdjustmentInput{
		CompanyID:     companyID,
		Month:         month,
		Direction:     bank.AdjustmentDirection(req.Direction),
		Hours:         hours,
		Tickets:       req.Tickets,
		Justification: req.Justification,
		Actor:         req.Actor,
	})
	if err != nil && adj == nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Adjustment AdjustmentDTO    `json:"adjustment"`
		Result     *RecalcResultDTO `json:"result,omitempty"`
		Warning    string           `json:"warning,omitempty"`
	}{
		Adjustment: adjustmentDTO(adj),
		Result:     recalcResultDTO(result),
	}
	if err != nil {
		// Adjustment persisted but the cascade stopped partway.
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// DeactivateAdjustment soft-deletes an adjustment and cascades.
func (h *Handler) DeactivateAdjustment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "adjustmentID")
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = bank.SystemActor
	}

	adj, result, err := h.Adjustments.Deactivate(r.Context(), id, actor)
	if err != nil && adj == nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Adjustment AdjustmentDTO    `json:"adjustment"`
		Result     *RecalcResultDTO `json:"result,omitempty"`
		Warning    string           `json:"warning,omitempty"`
	}{
		Adjustment: adjustmentDTO(adj),
		Result:     recalcResultDTO(result),
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAdjustments returns all adjustments of a company+month.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.ledgerKey(w, r)
	if !ok {
		return
	}
	adjustments, err := h.Adjustments.ListForMonth(r.Context(), companyID, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjustments))
	for i := range adjustments {
		dtos[i] = adjustmentDTO(&adjustments[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COMPANY RESOURCE HANDLERS
// =============================================================================

// GetAllocations returns all of a company's allocation shares.
func (h *Handler) GetAllocations(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	allocations, err := h.Service.ListAllocations(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AllocationDTO, len(allocations))
	for i, a := range allocations {
		dtos[i] = AllocationDTO{
			ID:           a.ID,
			Name:         a.Name,
			SharePercent: a.BaselineSharePercent,
			Active:       a.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAudit returns a company's audit trail, optionally filtered by
// ?actor= and ?action= query parameters.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	filter := bank.AuditFilter{CompanyID: &companyID}
	if actor := r.URL.Query().Get("actor"); actor != "" {
		filter.ActorID = &actor
	}
	if action := r.URL.Query().Get("action"); action != "" {
		filter.Actions = []bank.AuditAction{bank.AuditAction(action)}
	}

	entries, err := h.Audit.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = auditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// ledgerKey extracts and validates {companyID}/{year}/{month} from the URL.
func (h *Handler) ledgerKey(w http.ResponseWriter, r *http.Request) (string, bank.MonthKey, bool) {
	companyID := chi.URLParam(r, "companyID")
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 || year > 2200 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return "", bank.MonthKey{}, false
	}
	monthNum, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || monthNum < 1 || monthNum > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return "", bank.MonthKey{}, false
	}
	return companyID, bank.NewMonthKey(year, time.Month(monthNum)), true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bank.ErrRecalculationInFlight):
		return http.StatusConflict
	case errors.Is(err, bank.ErrContractNotConfigured),
		errors.Is(err, bank.ErrRateNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bank.ErrDataSourceUnavailable):
		return http.StatusBadGateway
	case bank.IsNotFound(err):
		return http.StatusNotFound
	case bank.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "Internal error", err)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= 500 {
		log.Printf("[API] %s: %v", message, err)
	}
	writeJSON(w, status, resp)
}
