/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Periods:
    POST   /api/periods/generate       Generate a contiguous period sequence
    GET    /api/periods                List pay periods
    GET    /api/periods/{id}           Get a pay period
    GET    /api/periods/{id}/summary   Aggregate view of the latest run
    POST   /api/periods/{id}/process   Start (or re-fetch) a batch run

  Runs:
    GET    /api/runs/{id}              Get a run with aggregate totals
    GET    /api/runs/{id}/line-items   Per-employee results
    POST   /api/runs/{id}/cancel       Cancel a draft or in-flight run

  Rules:
    GET    /api/rules/tax              List tax rules for jurisdiction/date
    POST   /api/rules/tax              Register a tax rule
    GET    /api/rules/deductions       List deduction rules for an employee
    POST   /api/rules/deductions       Register a deduction rule

  Employees:
    POST   /api/employees              Register a compensation profile
    GET    /api/employees/{id}         Get a compensation profile
    POST   /api/employees/{id}/hours   Record approved hours for a period

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (calculator, processor, scheduler)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (concurrent run, non-cancellable run, overlap)
  - 422: Deduction overruns, rule resolution failures
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - payroll/processor.go: Batch run semantics
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/reporting"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Processor *payroll.BatchPayrollProcessor
	Scheduler *payroll.PayPeriodScheduler
	Reporter  *reporting.Reporter
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, processor *payroll.BatchPayrollProcessor, scheduler *payroll.PayPeriodScheduler, reporter *reporting.Reporter) *Handler {
	return &Handler{
		Store:     store,
		Processor: processor,
		Scheduler: scheduler,
		Reporter:  reporter,
	}
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// GeneratePeriods creates a contiguous sequence of pay periods.
func (h *Handler) GeneratePeriods(w http.ResponseWriter, r *http.Request) {
	var req GeneratePeriodsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	anchor, err := payroll.ParseDate(req.Anchor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid anchor date", err)
		return
	}

	periods, err := h.Scheduler.Generate(payroll.PayFrequency(req.Frequency), anchor, req.Count)
	if err != nil {
		writeDomainError(w, "Failed to generate periods", err)
		return
	}

	saved := make([]PayPeriodDTO, 0, len(periods))
	for _, p := range periods {
		if err := h.Store.SavePayPeriod(r.Context(), p); err != nil {
			// Re-generating an existing schedule is not an error; skip
			// periods that already exist or would overlap.
			if errors.Is(err, payroll.ErrPeriodOverlap) {
				continue
			}
			writeDomainError(w, "Failed to save period", err)
			return
		}
		saved = append(saved, toPayPeriodDTO(p))
	}

	writeJSON(w, http.StatusCreated, saved)
}

// ListPeriods returns all pay periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPayPeriods(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}

	dtos := make([]PayPeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPayPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPeriod returns a single pay period.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	period, err := h.Store.PayPeriod(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayPeriodDTO(period))
}

// GetPeriodSummary returns the aggregate view of a period's latest run.
func (h *Handler) GetPeriodSummary(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	summary, err := h.Reporter.PeriodSummary(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to summarize period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodSummaryDTO(summary))
}

// ProcessPeriod starts a batch run for a period. Re-submitting a period
// whose run already finished returns the finished run unchanged.
func (h *Handler) ProcessPeriod(w http.ResponseWriter, r *http.Request) {
	periodID := payroll.PeriodID(chi.URLParam(r, "id"))

	var req ProcessRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	employeeIDs := make([]payroll.EmployeeID, 0, len(req.EmployeeIDs))
	for _, id := range req.EmployeeIDs {
		employeeIDs = append(employeeIDs, payroll.EmployeeID(id))
	}
	if len(employeeIDs) == 0 {
		period, err := h.Store.PayPeriod(r.Context(), periodID)
		if err != nil {
			writeDomainError(w, "Failed to get period", err)
			return
		}
		employeeIDs, err = h.Store.ListEmployeeIDs(r.Context(), period.Start)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
			return
		}
	}

	run, err := h.Processor.ProcessRun(r.Context(), periodID, employeeIDs)
	if err != nil {
		writeDomainError(w, "Failed to process period", err)
		return
	}

	h.Reporter.Invalidate(periodID)
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run))
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// GetRun returns a run with its aggregate totals.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))

	run, err := h.Store.Run(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run))
}

// GetLineItems returns a run's per-employee results.
func (h *Handler) GetLineItems(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))

	if _, err := h.Store.Run(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get run", err)
		return
	}
	items, err := h.Store.LineItems(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list line items", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(items))
}

// CancelRun cancels a draft or in-flight run. Cancelling a run that is
// actively processing is asynchronous: the response body still reports
// `processing`, and the run settles to `cancelled` once its workers drain.
// Poll GET /api/runs/{id} to observe the terminal state.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))

	run, err := h.Processor.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to cancel run", err)
		return
	}

	h.Reporter.Invalidate(run.PeriodID)
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// CreateTaxRule registers a tax rule.
func (h *Handler) CreateTaxRule(w http.ResponseWriter, r *http.Request) {
	var req CreateTaxRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := taxRuleFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tax rule", err)
		return
	}
	if err := h.Store.SaveTaxRule(r.Context(), rule); err != nil {
		writeDomainError(w, "Failed to save tax rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaxRuleDTO(rule))
}

// ListTaxRules returns the tax rules for a jurisdiction as of a date.
func (h *Handler) ListTaxRules(w http.ResponseWriter, r *http.Request) {
	jurisdiction := r.URL.Query().Get("jurisdiction")
	if jurisdiction == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction query parameter is required", nil)
		return
	}
	asOf, err := dateQueryParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	rules, err := h.Store.TaxRules(r.Context(), jurisdiction, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tax rules", err)
		return
	}

	dtos := make([]TaxRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toTaxRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDeductionRule registers a deduction rule for an employee.
func (h *Handler) CreateDeductionRule(w http.ResponseWriter, r *http.Request) {
	var req CreateDeductionRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := deductionRuleFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deduction rule", err)
		return
	}
	if err := h.Store.SaveDeductionRule(r.Context(), rule); err != nil {
		writeDomainError(w, "Failed to save deduction rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeductionRuleDTO(rule))
}

// ListDeductionRules returns an employee's deduction rules as of a date.
func (h *Handler) ListDeductionRules(w http.ResponseWriter, r *http.Request) {
	employeeID := r.URL.Query().Get("employee_id")
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id query parameter is required", nil)
		return
	}
	asOf, err := dateQueryParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	rules, err := h.Store.DeductionRules(r.Context(), payroll.EmployeeID(employeeID), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deduction rules", err)
		return
	}

	dtos := make([]DeductionRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toDeductionRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee registers a compensation profile.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, activeFrom, activeTo, err := profileFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid employee", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), profile, activeFrom, activeTo); err != nil {
		writeDomainError(w, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(profile))
}

// GetEmployee returns a compensation profile as of a date.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	asOf, err := dateQueryParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	profile, err := h.Store.CompensationProfile(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(profile))
}

// RecordHours records approved hours for an employee and period.
func (h *Handler) RecordHours(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	var req RecordHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	periodStart, err := payroll.ParseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start date", err)
		return
	}
	worked, err := workedTimeFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours", err)
		return
	}

	if err := h.Store.SaveApprovedHours(r.Context(), id, periodStart, worked); err != nil {
		writeDomainError(w, "Failed to save hours", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

func taxRuleFromRequest(req CreateTaxRuleRequest) (payroll.TaxRule, error) {
	rule := payroll.TaxRule{
		ID:           payroll.RuleID(req.ID),
		Jurisdiction: req.Jurisdiction,
		Kind:         payroll.TaxKind(req.Kind),
	}

	var err error
	if req.Rate != "" {
		if rule.Rate, err = decimal.NewFromString(req.Rate); err != nil {
			return payroll.TaxRule{}, err
		}
	}
	for _, b := range req.Brackets {
		bracket := payroll.TaxBracket{}
		if bracket.Lower, err = decimal.NewFromString(b.Lower); err != nil {
			return payroll.TaxRule{}, err
		}
		if bracket.Rate, err = decimal.NewFromString(b.Rate); err != nil {
			return payroll.TaxRule{}, err
		}
		if b.Upper != nil {
			upper, err := decimal.NewFromString(*b.Upper)
			if err != nil {
				return payroll.TaxRule{}, err
			}
			bracket.Upper = &upper
		}
		rule.Brackets = append(rule.Brackets, bracket)
	}
	if req.WageCap != nil {
		cap, err := decimal.NewFromString(*req.WageCap)
		if err != nil {
			return payroll.TaxRule{}, err
		}
		rule.WageCap = &cap
	}
	if rule.EffectiveFrom, err = payroll.ParseDate(req.EffectiveFrom); err != nil {
		return payroll.TaxRule{}, err
	}
	if req.EffectiveTo != nil {
		to, err := payroll.ParseDate(*req.EffectiveTo)
		if err != nil {
			return payroll.TaxRule{}, err
		}
		rule.EffectiveTo = &to
	}
	return rule, nil
}

func deductionRuleFromRequest(req CreateDeductionRuleRequest) (payroll.DeductionRule, error) {
	rule := payroll.DeductionRule{
		ID:         payroll.RuleID(req.ID),
		EmployeeID: payroll.EmployeeID(req.EmployeeID),
		Kind:       payroll.DeductionKind(req.Kind),
		IsPercent:  req.IsPercent,
		PreTax:     req.PreTax,
		Frequency:  payroll.PayFrequency(req.Frequency),
	}

	var err error
	if rule.Amount, err = decimal.NewFromString(req.Amount); err != nil {
		return payroll.DeductionRule{}, err
	}
	if rule.EffectiveFrom, err = payroll.ParseDate(req.EffectiveFrom); err != nil {
		return payroll.DeductionRule{}, err
	}
	if req.EffectiveTo != nil {
		to, err := payroll.ParseDate(*req.EffectiveTo)
		if err != nil {
			return payroll.DeductionRule{}, err
		}
		rule.EffectiveTo = &to
	}
	return rule, nil
}

func profileFromRequest(req CreateEmployeeRequest) (payroll.CompensationProfile, payroll.Date, *payroll.Date, error) {
	profile := payroll.CompensationProfile{
		EmployeeID:          payroll.EmployeeID(req.ID),
		PayType:             payroll.PayType(req.PayType),
		OvertimeEligible:    req.OvertimeEligible,
		FilingStatus:        payroll.FilingStatus(req.FilingStatus),
		Exemptions:          req.Exemptions,
		FederalJurisdiction: req.FederalJurisdiction,
		StateJurisdiction:   req.StateJurisdiction,
	}

	var err error
	if profile.BaseRate, err = decimal.NewFromString(req.BaseRate); err != nil {
		return payroll.CompensationProfile{}, payroll.Date{}, nil, err
	}
	if req.StandardHours != "" {
		if profile.StandardHours, err = decimal.NewFromString(req.StandardHours); err != nil {
			return payroll.CompensationProfile{}, payroll.Date{}, nil, err
		}
	}

	activeFrom, err := payroll.ParseDate(req.ActiveFrom)
	if err != nil {
		return payroll.CompensationProfile{}, payroll.Date{}, nil, err
	}
	var activeTo *payroll.Date
	if req.ActiveTo != nil {
		to, err := payroll.ParseDate(*req.ActiveTo)
		if err != nil {
			return payroll.CompensationProfile{}, payroll.Date{}, nil, err
		}
		activeTo = &to
	}
	return profile, activeFrom, activeTo, nil
}

func workedTimeFromRequest(req RecordHoursRequest) (payroll.WorkedTime, error) {
	var worked payroll.WorkedTime
	var err error

	if worked.RegularHours, err = decimal.NewFromString(req.RegularHours); err != nil {
		return payroll.WorkedTime{}, err
	}
	if req.OvertimeHours != "" {
		if worked.OvertimeHours, err = decimal.NewFromString(req.OvertimeHours); err != nil {
			return payroll.WorkedTime{}, err
		}
	}
	if req.Bonus != "" {
		if worked.Bonus, err = decimal.NewFromString(req.Bonus); err != nil {
			return payroll.WorkedTime{}, err
		}
	}
	if req.Commission != "" {
		if worked.Commission, err = decimal.NewFromString(req.Commission); err != nil {
			return payroll.WorkedTime{}, err
		}
	}
	return worked, nil
}

func dateQueryParam(r *http.Request, name string) (payroll.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return payroll.Today(), nil
	}
	return payroll.ParseDate(raw)
}

// =============================================================================
// RESPONSE HELPERS
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

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, payroll.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, payroll.ErrConcurrentRunConflict),
		errors.Is(err, payroll.ErrRunNotCancellable),
		errors.Is(err, payroll.ErrPeriodOverlap):
		status = http.StatusConflict
	case errors.Is(err, payroll.ErrDeductionExceedsGross),
		errors.Is(err, payroll.ErrRuleResolution):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, payroll.ErrValidation),
		errors.Is(err, payroll.ErrInvalidPeriod):
		status = http.StatusBadRequest
	}

	resp := ErrorResponse{Error: message, Code: payroll.FailureKind(err)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
