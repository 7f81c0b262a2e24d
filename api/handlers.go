/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the payroll service.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List all employees
    POST   /api/employees                     Create employee
    GET    /api/employees/{id}                Get employee details
    PUT    /api/employees/{id}/wallet         Update wallet address
    GET    /api/employees/{id}/early-access   Available / outstanding advance
    POST   /api/employees/{id}/early-access   Draw an advance
    GET    /api/employees/{id}/transactions   Ledger entries of one employee

  Ledger:
    GET    /api/transactions?limit=100        Newest ledger entries

  Rates & tax:
    GET    /api/rates?base=USD&kind=crypto    Current rate snapshot
    GET    /api/tax/jurisdictions             Configured tax tables
    POST   /api/tax/estimate                  Bracket or crypto flat-rate estimate

  Payroll:
    POST   /api/payroll/preview               Price a period, nothing persisted
    POST   /api/payroll/runs                  Execute and record a run
    GET    /api/payroll/runs                  Run history
    GET    /api/payroll/runs/{id}             One run
    POST   /api/payroll/international         Local-currency payroll

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Employee and run persistence
  - Service: Runs and advances
  - FX: Rate source for international payroll

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (completed run, duplicate idempotency key)
  - 422: Computation errors (advance limit, unknown jurisdiction)
  - 502: Rate provider unavailable
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - csv.go: Template download and bulk import
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *payroll.Service
	FX      rates.Source
	Logger  *zap.Logger

	// Base is the currency salaries are expressed in.
	Base string

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. The crypto rate source and tax
// configuration are taken from the service's aggregator.
func NewHandler(store *sqlite.Store, svc *payroll.Service, fx rates.Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:   store,
		Service: svc,
		FX:      fx,
		Logger:  logger,
		Base:    string(generic.USD),
	}
}

func (h *Handler) tax() *payroll.TaxEstimator { return h.Service.Aggregator.Tax }

// Health reports database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Employee not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		writeError(w, http.StatusBadRequest, "first_name is required", nil)
		return
	}

	emp := req.toEmployee()
	if emp.Country == "" && emp.Jurisdiction != "" {
		emp.Country = h.tax().Config().CountryForJurisdiction(emp.Jurisdiction)
	}
	created, err := h.Service.CreateEmployee(r.Context(), emp)
	if err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(created))
}

// UpdateWallet replaces the payout wallet of an employee.
func (h *Handler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req UpdateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	emp, err := h.Service.UpdateWallet(r.Context(), chi.URLParam(r, "id"), req.WalletAddress)
	if err != nil {
		h.fail(w, r, "Failed to update wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// =============================================================================
// EARLY ACCESS HANDLERS
// =============================================================================

// GetEarlyAccess returns what an employee can still draw. ?period= selects
// the pay period (default: current month).
func (h *Handler) GetEarlyAccess(w http.ResponseWriter, r *http.Request) {
	period, err := h.resolvePeriod(RunRequest{Period: r.URL.Query().Get("period")})
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}
	status, err := h.Service.AdvanceStatus(r.Context(), chi.URLParam(r, "id"), period)
	if err != nil {
		h.fail(w, r, "Failed to get early access status", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceStatusDTO(status))
}

// RequestEarlyAccess draws an advance against earned wages.
func (h *Handler) RequestEarlyAccess(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := h.resolvePeriod(RunRequest{Period: req.Period})
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}

	record, err := h.Service.RequestAdvance(r.Context(), payroll.AdvanceRequest{
		EmployeeID:     chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Period:         period,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, r, "Early access rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetEmployeeTransactions returns every ledger entry of an employee.
func (h *Handler) GetEmployeeTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, r, "Employee not found", err)
		return
	}
	txs, err := h.Store.LoadByEntity(r.Context(), generic.EntityID(id))
	if err != nil {
		h.fail(w, r, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ListTransactions returns the newest ledger entries. ?limit= caps the
// result (default 100).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	txs, err := h.Store.RecentTransactions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// RATES & TAX HANDLERS
// =============================================================================

// GetRates returns a fresh snapshot. kind=fx selects the FX provider.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	if base == "" {
		base = h.Base
	}
	src := h.Service.Aggregator.Rates
	if r.URL.Query().Get("kind") == "fx" {
		src = h.FX
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "Rate source not configured", nil)
		return
	}

	table, err := src.FetchRates(r.Context(), base)
	if err != nil {
		h.fail(w, r, "Failed to fetch rates", err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(table))
}

// ListJurisdictions returns every configured tax table.
func (h *Handler) ListJurisdictions(w http.ResponseWriter, r *http.Request) {
	js := h.tax().Config().Jurisdictions()
	dtos := make([]JurisdictionDTO, len(js))
	for i, j := range js {
		dtos[i] = toJurisdictionDTO(j)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EstimateTax runs the estimator in bracket or crypto flat-rate mode.
func (h *Handler) EstimateTax(w http.ResponseWriter, r *http.Request) {
	var req TaxEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		est payroll.TaxEstimate
		err error
	)
	switch {
	case strings.EqualFold(req.Mode, "crypto"):
		est, err = h.tax().EstimateCrypto(req.Amount)
	case req.Jurisdiction != "":
		est, err = h.tax().EstimateBracket(req.Amount, req.Jurisdiction)
	default:
		writeError(w, http.StatusBadRequest, "jurisdiction or mode=crypto is required", nil)
		return
	}
	if err != nil {
		h.fail(w, r, "Tax estimate failed", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// PreviewPayroll prices a period without persisting anything.
func (h *Handler) PreviewPayroll(w http.ResponseWriter, r *http.Request) {
	req, period, ok := h.decodeRunRequest(w, r)
	if !ok {
		return
	}
	report, err := h.Service.PreviewRun(r.Context(), period, req.EmployeeIDs)
	if err != nil {
		h.fail(w, r, "Payroll preview failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ExecutePayroll runs payroll for a period, settles advances and records it.
func (h *Handler) ExecutePayroll(w http.ResponseWriter, r *http.Request) {
	req, period, ok := h.decodeRunRequest(w, r)
	if !ok {
		return
	}
	run, report, err := h.Service.ExecuteRun(r.Context(), period, req.EmployeeIDs)
	if err != nil {
		h.fail(w, r, "Payroll run failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, RunResponse{Run: toRunDTO(run), Report: report})
}

// ListRuns returns run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Service.History(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list payroll runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one payroll run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Payroll run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// InternationalPayroll prices employees in the currency of their country
// and optionally disburses cross-border.
func (h *Handler) InternationalPayroll(w http.ResponseWriter, r *http.Request) {
	var req InternationalRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if h.FX == nil {
		writeError(w, http.StatusNotFound, "FX source not configured", nil)
		return
	}
	ctx := r.Context()

	employees, err := h.loadEmployees(r, req.EmployeeIDs)
	if err != nil {
		h.fail(w, r, "Failed to load employees", err)
		return
	}
	fx, err := h.FX.FetchRates(ctx, h.Base)
	if err != nil {
		h.fail(w, r, "Failed to fetch FX rates", err)
		return
	}

	resp := InternationalResponse{Report: payroll.LocalPayrolls(employees, fx, h.tax().Config())}
	if req.Disburse {
		resp.Payments, err = h.Service.Disburser.PayCrossBorder(ctx, resp.Report.Results())
		if err != nil {
			h.fail(w, r, "Cross-border disbursement failed", err)
			return
		}
		h.Logger.Info("cross-border payments sent", zap.Int("count", len(resp.Payments)))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeRunRequest(w http.ResponseWriter, r *http.Request) (RunRequest, generic.PayPeriod, bool) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return req, generic.PayPeriod{}, false
		}
	}
	period, err := h.resolvePeriod(req)
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return req, generic.PayPeriod{}, false
	}
	return req, period, true
}

// resolvePeriod accepts a period key, a start/end pair, or nothing for the
// current month.
func (h *Handler) resolvePeriod(req RunRequest) (generic.PayPeriod, error) {
	switch {
	case req.Period != "":
		return generic.ParsePeriodKey(req.Period)
	case req.Start != "" || req.End != "":
		start, err1 := time.Parse("2006-01-02", req.Start)
		end, err2 := time.Parse("2006-01-02", req.End)
		if err := errors.Join(err1, err2); err != nil {
			return generic.PayPeriod{}, fmt.Errorf("%w: %v", generic.ErrInvalidPeriod, err)
		}
		return generic.NewPayPeriod(start, end)
	default:
		return generic.PeriodFor(generic.PeriodMonthly, h.Service.Clock.Now()), nil
	}
}

func (h *Handler) loadEmployees(r *http.Request, ids []string) ([]payroll.Employee, error) {
	if len(ids) == 0 {
		return h.Store.ListEmployees(r.Context())
	}
	out := make([]payroll.Employee, 0, len(ids))
	for _, id := range ids {
		emp, err := h.Store.GetEmployee(r.Context(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a domain error to its HTTP status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsUpstream(err):
		return http.StatusBadGateway
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsComputationError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
