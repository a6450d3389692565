/*
handlers_test.go - End-to-end tests for the HTTP API

Tests drive the full stack through the chi router: rule registration,
employee setup, period generation, batch processing, reporting, and the
error-to-status mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/reporting"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) (*chi.Mux, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	taxes := payroll.NewTaxRuleEngine(store)
	deductions := payroll.NewDeductionCalculator(store)
	calculator := payroll.NewPayrollCalculator(taxes, deductions, store)
	processor := payroll.NewBatchPayrollProcessor(store, store, calculator, payroll.NopEventSink{})
	periods := payroll.NewPayPeriodScheduler(3)
	reporter := reporting.NewReporter(store, reporting.DefaultTTL)

	handler := NewHandler(store, processor, periods, reporter)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(handler, logger), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func seedStandardRules(t *testing.T, router http.Handler) {
	t.Helper()
	rules := []CreateTaxRuleRequest{
		{ID: "fed-2025", Jurisdiction: "US", Kind: "federal_income", Rate: "0.22", EffectiveFrom: "2025-01-01"},
		{ID: "ss-2025", Jurisdiction: "US", Kind: "social_security", Rate: "0.062", EffectiveFrom: "2025-01-01"},
		{ID: "med-2025", Jurisdiction: "US", Kind: "medicare", Rate: "0.0145", EffectiveFrom: "2025-01-01"},
		{ID: "ca-2025", Jurisdiction: "US-CA", Kind: "state_income", Rate: "0.05", EffectiveFrom: "2025-01-01"},
	}
	for _, rule := range rules {
		rec := doJSON(t, router, http.MethodPost, "/api/rules/tax", rule)
		if rec.Code != http.StatusCreated {
			t.Fatalf("Failed to create tax rule %s: status %d, body %s", rule.ID, rec.Code, rec.Body.String())
		}
	}
}

func seedEmployee(t *testing.T, router http.Handler, req CreateEmployeeRequest) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/employees", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create employee %s: status %d, body %s", req.ID, rec.Code, rec.Body.String())
	}
}

func salariedRequest(id string) CreateEmployeeRequest {
	return CreateEmployeeRequest{
		ID:                  id,
		PayType:             "salaried",
		BaseRate:            "52000",
		FilingStatus:        "single",
		FederalJurisdiction: "US",
		StateJurisdiction:   "US-CA",
		ActiveFrom:          "2025-01-01",
	}
}

// =============================================================================
// FULL CYCLE
// =============================================================================

func TestAPI_FullPayrollCycle(t *testing.T) {
	router, _ := newTestRouter(t)
	seedStandardRules(t, router)
	seedEmployee(t, router, salariedRequest("emp-1"))

	// Generate two biweekly periods starting Monday Jan 6.
	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "2025-01-06", Count: 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Generate periods: status %d, body %s", rec.Code, rec.Body.String())
	}
	periods := decodeBody[[]PayPeriodDTO](t, rec)
	if len(periods) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(periods))
	}
	periodID := periods[0].ID
	if periods[0].Start != "2025-01-06" || periods[0].End != "2025-01-19" {
		t.Errorf("unexpected first period span: %s to %s", periods[0].Start, periods[0].End)
	}

	// Process the first period for the full employee set.
	rec = doJSON(t, router, http.MethodPost, "/api/periods/"+periodID+"/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Process period: status %d, body %s", rec.Code, rec.Body.String())
	}
	run := decodeBody[PayrollRunDTO](t, rec)
	if run.Status != "processed" {
		t.Errorf("expected processed run, got %s", run.Status)
	}
	if run.TotalGross != "2000.00" || run.TotalNet != "1307.00" {
		t.Errorf("unexpected totals: gross %s, net %s", run.TotalGross, run.TotalNet)
	}

	// Line items carry the per-employee breakdown.
	rec = doJSON(t, router, http.MethodGet, "/api/runs/"+run.ID+"/line-items", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Line items: status %d", rec.Code)
	}
	items := decodeBody[[]LineItemDTO](t, rec)
	if len(items) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(items))
	}
	if items[0].NetPay != "1307.00" || len(items[0].Taxes) != 4 {
		t.Errorf("unexpected line item: net %s, %d taxes", items[0].NetPay, len(items[0].Taxes))
	}

	// The period summary aggregates the run.
	rec = doJSON(t, router, http.MethodGet, "/api/periods/"+periodID+"/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Summary: status %d, body %s", rec.Code, rec.Body.String())
	}
	summary := decodeBody[PeriodSummaryDTO](t, rec)
	if summary.RunID != run.ID || summary.TaxTotals["federal_income"] != "440.00" {
		t.Errorf("unexpected summary: run %s, fed %s", summary.RunID, summary.TaxTotals["federal_income"])
	}

	// Processing closed the period.
	rec = doJSON(t, router, http.MethodGet, "/api/periods/"+periodID, nil)
	period := decodeBody[PayPeriodDTO](t, rec)
	if period.Status != "closed" {
		t.Errorf("expected closed period, got %s", period.Status)
	}
}

func TestAPI_ResubmissionReturnsSameRun(t *testing.T) {
	router, _ := newTestRouter(t)
	seedStandardRules(t, router)
	seedEmployee(t, router, salariedRequest("emp-1"))

	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "2025-01-06", Count: 1,
	})
	periods := decodeBody[[]PayPeriodDTO](t, rec)
	periodID := periods[0].ID

	first := decodeBody[PayrollRunDTO](t, doJSON(t, router, http.MethodPost, "/api/periods/"+periodID+"/process", nil))
	second := decodeBody[PayrollRunDTO](t, doJSON(t, router, http.MethodPost, "/api/periods/"+periodID+"/process", nil))

	if first.ID != second.ID {
		t.Errorf("re-submission created a new run: %s vs %s", first.ID, second.ID)
	}
}

func TestAPI_HourlyEmployeeWithRecordedHours(t *testing.T) {
	router, _ := newTestRouter(t)
	seedStandardRules(t, router)
	seedEmployee(t, router, CreateEmployeeRequest{
		ID:                  "emp-h",
		PayType:             "hourly",
		BaseRate:            "20.00",
		OvertimeEligible:    true,
		StandardHours:       "80",
		FilingStatus:        "single",
		FederalJurisdiction: "US",
		StateJurisdiction:   "US-CA",
		ActiveFrom:          "2025-01-01",
	})

	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "2025-01-06", Count: 1,
	})
	periods := decodeBody[[]PayPeriodDTO](t, rec)
	periodID := periods[0].ID

	rec = doJSON(t, router, http.MethodPost, "/api/employees/emp-h/hours", RecordHoursRequest{
		PeriodStart: "2025-01-06", RegularHours: "80", OvertimeHours: "5",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Record hours: status %d, body %s", rec.Code, rec.Body.String())
	}

	run := decodeBody[PayrollRunDTO](t, doJSON(t, router, http.MethodPost, "/api/periods/"+periodID+"/process", nil))
	if run.TotalGross != "1750.00" {
		t.Errorf("expected 1750.00 gross (80 regular + 5 overtime at 1.5x), got %s", run.TotalGross)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_UnknownPeriodIs404(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/periods/no-such-period", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAPI_BadAnchorIs400(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "not-a-date", Count: 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPI_CancelFinishedRunIs409(t *testing.T) {
	router, _ := newTestRouter(t)
	seedStandardRules(t, router)
	seedEmployee(t, router, salariedRequest("emp-1"))

	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "2025-01-06", Count: 1,
	})
	periods := decodeBody[[]PayPeriodDTO](t, rec)
	run := decodeBody[PayrollRunDTO](t, doJSON(t, router, http.MethodPost, "/api/periods/"+periods[0].ID+"/process", nil))

	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestAPI_MissingRuleSurfacesAsFailedLineItem(t *testing.T) {
	// Rule gaps are per-employee failures, not request errors: the run
	// completes partially_failed and the line item carries the class.
	router, _ := newTestRouter(t)
	seedEmployee(t, router, salariedRequest("emp-1")) // no tax rules registered

	rec := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "biweekly", Anchor: "2025-01-06", Count: 1,
	})
	periods := decodeBody[[]PayPeriodDTO](t, rec)

	run := decodeBody[PayrollRunDTO](t, doJSON(t, router, http.MethodPost, "/api/periods/"+periods[0].ID+"/process", nil))
	if run.Status != "partially_failed" {
		t.Fatalf("expected partially_failed, got %s", run.Status)
	}

	items := decodeBody[[]LineItemDTO](t, doJSON(t, router, http.MethodGet, "/api/runs/"+run.ID+"/line-items", nil))
	if len(items) != 1 || items[0].FailureKind != "rule_resolution_error" {
		t.Errorf("unexpected failure record: %+v", items)
	}
}

func TestAPI_OverlappingPeriodSkippedOnRegenerate(t *testing.T) {
	router, _ := newTestRouter(t)

	first := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "weekly", Anchor: "2025-01-06", Count: 2,
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("Generate: status %d", first.Code)
	}

	// Regenerating the same window saves nothing new and does not error.
	again := doJSON(t, router, http.MethodPost, "/api/periods/generate", GeneratePeriodsRequest{
		Frequency: "weekly", Anchor: "2025-01-06", Count: 2,
	})
	if again.Code != http.StatusCreated {
		t.Fatalf("Regenerate: status %d, body %s", again.Code, again.Body.String())
	}

	list := decodeBody[[]PayPeriodDTO](t, doJSON(t, router, http.MethodGet, "/api/periods", nil))
	if len(list) != 2 {
		t.Errorf("expected 2 periods after regeneration, got %d", len(list))
	}
}
