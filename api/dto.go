/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  All monetary fields are decimal strings ("2307.69"), never floats.
  Clients that do arithmetic on pay amounts must parse them exactly.

TYPES:
  Periods:
    PayPeriodDTO, GeneratePeriodsRequest

  Runs:
    PayrollRunDTO, ProcessRunRequest, LineItemDTO

  Rules:
    TaxRuleDTO, CreateTaxRuleRequest, DeductionRuleDTO,
    CreateDeductionRuleRequest

  Employees:
    EmployeeDTO, CreateEmployeeRequest, RecordHoursRequest

  Reporting:
    PeriodSummaryDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/types.go: Domain types these mirror
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/reporting"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PayPeriodDTO represents a pay period in API responses.
type PayPeriodDTO struct {
	ID          string `json:"id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	PaymentDate string `json:"payment_date"`
	Frequency   string `json:"frequency"`
	Status      string `json:"status"`
}

// GeneratePeriodsRequest asks the scheduler to generate a period sequence.
type GeneratePeriodsRequest struct {
	Frequency string `json:"frequency"`
	Anchor    string `json:"anchor"` // ISO date, first period starts on or after
	Count     int    `json:"count"`
}

// ProcessRunRequest starts a batch run for a period. An empty employee list
// means every employee active on the period start date.
type ProcessRunRequest struct {
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

// PayrollRunDTO represents a batch run in API responses.
type PayrollRunDTO struct {
	ID              string  `json:"id"`
	PeriodID        string  `json:"period_id"`
	Status          string  `json:"status"`
	TotalGross      string  `json:"total_gross"`
	TotalDeductions string  `json:"total_deductions"`
	TotalNet        string  `json:"total_net"`
	ProcessedCount  int     `json:"processed_count"`
	FailedCount     int     `json:"failed_count"`
	CreatedAt       string  `json:"created_at"`
	ProcessedAt     *string `json:"processed_at,omitempty"`
}

// LineItemDTO represents one employee's result within a run.
type LineItemDTO struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	EmployeeID string `json:"employee_id"`
	Status     string `json:"status"`

	GrossRegular    string `json:"gross_regular"`
	GrossOvertime   string `json:"gross_overtime"`
	GrossBonus      string `json:"gross_bonus"`
	GrossCommission string `json:"gross_commission"`
	GrossTotal      string `json:"gross_total"`

	PreTaxDeductions  string             `json:"pre_tax_deductions"`
	Taxes             []TaxLineDTO       `json:"taxes"`
	PostTaxDeductions string             `json:"post_tax_deductions"`
	Deductions        []DeductionLineDTO `json:"deductions"`
	NetPay            string             `json:"net_pay"`

	Notes          []string `json:"notes,omitempty"`
	FailureKind    string   `json:"failure_kind,omitempty"`
	FailureMessage string   `json:"failure_message,omitempty"`
}

// TaxLineDTO is a single withheld tax within a line item.
type TaxLineDTO struct {
	Kind         string `json:"kind"`
	Jurisdiction string `json:"jurisdiction"`
	Amount       string `json:"amount"`
}

// DeductionLineDTO is a single applied deduction within a line item.
type DeductionLineDTO struct {
	RuleID string `json:"rule_id"`
	Kind   string `json:"kind"`
	PreTax bool   `json:"pre_tax"`
	Amount string `json:"amount"`
}

// CreateTaxRuleRequest registers a tax rule.
type CreateTaxRuleRequest struct {
	ID            string              `json:"id"`
	Jurisdiction  string              `json:"jurisdiction"`
	Kind          string              `json:"kind"`
	Rate          string              `json:"rate,omitempty"`
	Brackets      []TaxBracketRequest `json:"brackets,omitempty"`
	WageCap       *string             `json:"wage_cap,omitempty"`
	EffectiveFrom string              `json:"effective_from"`
	EffectiveTo   *string             `json:"effective_to,omitempty"`
}

// TaxBracketRequest is one bracket within a progressive rule.
type TaxBracketRequest struct {
	Lower string  `json:"lower"`
	Upper *string `json:"upper,omitempty"`
	Rate  string  `json:"rate"`
}

// TaxRuleDTO represents a tax rule in API responses.
type TaxRuleDTO struct {
	ID            string              `json:"id"`
	Jurisdiction  string              `json:"jurisdiction"`
	Kind          string              `json:"kind"`
	Rate          string              `json:"rate"`
	Brackets      []TaxBracketRequest `json:"brackets,omitempty"`
	WageCap       *string             `json:"wage_cap,omitempty"`
	EffectiveFrom string              `json:"effective_from"`
	EffectiveTo   *string             `json:"effective_to,omitempty"`
}

// CreateDeductionRuleRequest registers a deduction rule for an employee.
type CreateDeductionRuleRequest struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	Kind          string  `json:"kind"`
	Amount        string  `json:"amount"`
	IsPercent     bool    `json:"is_percent"`
	PreTax        bool    `json:"pre_tax"`
	Frequency     string  `json:"frequency"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
}

// DeductionRuleDTO represents a deduction rule in API responses.
type DeductionRuleDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	Kind          string  `json:"kind"`
	Amount        string  `json:"amount"`
	IsPercent     bool    `json:"is_percent"`
	PreTax        bool    `json:"pre_tax"`
	Frequency     string  `json:"frequency"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
}

// CreateEmployeeRequest registers an employee's compensation profile.
type CreateEmployeeRequest struct {
	ID                  string  `json:"id"`
	PayType             string  `json:"pay_type"`
	BaseRate            string  `json:"base_rate"`
	OvertimeEligible    bool    `json:"overtime_eligible"`
	StandardHours       string  `json:"standard_hours,omitempty"`
	FilingStatus        string  `json:"filing_status"`
	Exemptions          int     `json:"exemptions"`
	FederalJurisdiction string  `json:"federal_jurisdiction"`
	StateJurisdiction   string  `json:"state_jurisdiction"`
	ActiveFrom          string  `json:"active_from"`
	ActiveTo            *string `json:"active_to,omitempty"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID                  string `json:"id"`
	PayType             string `json:"pay_type"`
	BaseRate            string `json:"base_rate"`
	OvertimeEligible    bool   `json:"overtime_eligible"`
	StandardHours       string `json:"standard_hours"`
	FilingStatus        string `json:"filing_status"`
	Exemptions          int    `json:"exemptions"`
	FederalJurisdiction string `json:"federal_jurisdiction"`
	StateJurisdiction   string `json:"state_jurisdiction"`
}

// RecordHoursRequest records approved hours for one employee and period.
type RecordHoursRequest struct {
	PeriodStart   string `json:"period_start"` // ISO date, must match a period start
	RegularHours  string `json:"regular_hours"`
	OvertimeHours string `json:"overtime_hours,omitempty"`
	Bonus         string `json:"bonus,omitempty"`
	Commission    string `json:"commission,omitempty"`
}

// PeriodSummaryDTO is the aggregate view of a period's latest run.
type PeriodSummaryDTO struct {
	PeriodID        string            `json:"period_id"`
	RunID           string            `json:"run_id"`
	RunStatus       string            `json:"run_status"`
	Start           string            `json:"start"`
	End             string            `json:"end"`
	PaymentDate     string            `json:"payment_date"`
	TotalGross      string            `json:"total_gross"`
	TotalDeductions string            `json:"total_deductions"`
	TotalNet        string            `json:"total_net"`
	TaxTotals       map[string]string `json:"tax_totals"`
	ProcessedCount  int               `json:"processed_count"`
	FailedCount     int               `json:"failed_count"`
	GeneratedAt     string            `json:"generated_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPayPeriodDTO(p payroll.PayPeriod) PayPeriodDTO {
	return PayPeriodDTO{
		ID:          string(p.ID),
		Start:       p.Start.String(),
		End:         p.End.String(),
		PaymentDate: p.PaymentDate.String(),
		Frequency:   string(p.Frequency),
		Status:      string(p.Status),
	}
}

func toPayrollRunDTO(run payroll.PayrollRun) PayrollRunDTO {
	dto := PayrollRunDTO{
		ID:              string(run.ID),
		PeriodID:        string(run.PeriodID),
		Status:          string(run.Status),
		TotalGross:      run.TotalGross.StringFixed(2),
		TotalDeductions: run.TotalDeductions.StringFixed(2),
		TotalNet:        run.TotalNet.StringFixed(2),
		ProcessedCount:  run.ProcessedCount,
		FailedCount:     run.FailedCount,
		CreatedAt:       run.CreatedAt.Format(time.RFC3339),
	}
	if run.ProcessedAt != nil {
		s := run.ProcessedAt.Format(time.RFC3339)
		dto.ProcessedAt = &s
	}
	return dto
}

func toLineItemDTO(item payroll.PayrollLineItem) LineItemDTO {
	taxes := make([]TaxLineDTO, len(item.Taxes))
	for i, t := range item.Taxes {
		taxes[i] = TaxLineDTO{
			Kind:         string(t.Kind),
			Jurisdiction: t.Jurisdiction,
			Amount:       t.Amount.StringFixed(2),
		}
	}
	deductions := make([]DeductionLineDTO, len(item.Deductions))
	for i, d := range item.Deductions {
		deductions[i] = DeductionLineDTO{
			RuleID: string(d.RuleID),
			Kind:   string(d.Kind),
			PreTax: d.PreTax,
			Amount: d.Amount.StringFixed(2),
		}
	}
	return LineItemDTO{
		ID:                string(item.ID),
		RunID:             string(item.RunID),
		EmployeeID:        string(item.EmployeeID),
		Status:            string(item.Status),
		GrossRegular:      item.Gross.Regular.StringFixed(2),
		GrossOvertime:     item.Gross.Overtime.StringFixed(2),
		GrossBonus:        item.Gross.Bonus.StringFixed(2),
		GrossCommission:   item.Gross.Commission.StringFixed(2),
		GrossTotal:        item.Gross.Total().StringFixed(2),
		PreTaxDeductions:  item.PreTax.StringFixed(2),
		Taxes:             taxes,
		PostTaxDeductions: item.PostTax.StringFixed(2),
		Deductions:        deductions,
		NetPay:            item.NetPay.StringFixed(2),
		Notes:             item.Notes,
		FailureKind:       item.FailureKind,
		FailureMessage:    item.FailureMessage,
	}
}

func toLineItemDTOs(items []payroll.PayrollLineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toLineItemDTO(item)
	}
	return dtos
}

func toTaxRuleDTO(rule payroll.TaxRule) TaxRuleDTO {
	dto := TaxRuleDTO{
		ID:            string(rule.ID),
		Jurisdiction:  rule.Jurisdiction,
		Kind:          string(rule.Kind),
		Rate:          rule.Rate.String(),
		EffectiveFrom: rule.EffectiveFrom.String(),
	}
	for _, b := range rule.Brackets {
		br := TaxBracketRequest{Lower: b.Lower.String(), Rate: b.Rate.String()}
		if b.Upper != nil {
			s := b.Upper.String()
			br.Upper = &s
		}
		dto.Brackets = append(dto.Brackets, br)
	}
	if rule.WageCap != nil {
		s := rule.WageCap.String()
		dto.WageCap = &s
	}
	if rule.EffectiveTo != nil {
		s := rule.EffectiveTo.String()
		dto.EffectiveTo = &s
	}
	return dto
}

func toDeductionRuleDTO(rule payroll.DeductionRule) DeductionRuleDTO {
	dto := DeductionRuleDTO{
		ID:            string(rule.ID),
		EmployeeID:    string(rule.EmployeeID),
		Kind:          string(rule.Kind),
		Amount:        rule.Amount.String(),
		IsPercent:     rule.IsPercent,
		PreTax:        rule.PreTax,
		Frequency:     string(rule.Frequency),
		EffectiveFrom: rule.EffectiveFrom.String(),
	}
	if rule.EffectiveTo != nil {
		s := rule.EffectiveTo.String()
		dto.EffectiveTo = &s
	}
	return dto
}

func toEmployeeDTO(p payroll.CompensationProfile) EmployeeDTO {
	return EmployeeDTO{
		ID:                  string(p.EmployeeID),
		PayType:             string(p.PayType),
		BaseRate:            p.BaseRate.String(),
		OvertimeEligible:    p.OvertimeEligible,
		StandardHours:       p.StandardHours.String(),
		FilingStatus:        string(p.FilingStatus),
		Exemptions:          p.Exemptions,
		FederalJurisdiction: p.FederalJurisdiction,
		StateJurisdiction:   p.StateJurisdiction,
	}
}

func toPeriodSummaryDTO(s reporting.PeriodSummary) PeriodSummaryDTO {
	taxTotals := make(map[string]string, len(s.TaxTotals))
	for kind, total := range s.TaxTotals {
		taxTotals[string(kind)] = total.StringFixed(2)
	}
	return PeriodSummaryDTO{
		PeriodID:        string(s.PeriodID),
		RunID:           string(s.RunID),
		RunStatus:       string(s.RunStatus),
		Start:           s.Start.String(),
		End:             s.End.String(),
		PaymentDate:     s.PaymentDate.String(),
		TotalGross:      s.TotalGross.StringFixed(2),
		TotalDeductions: s.TotalDeductions.StringFixed(2),
		TotalNet:        s.TotalNet.StringFixed(2),
		TaxTotals:       taxTotals,
		ProcessedCount:  s.ProcessedCount,
		FailedCount:     s.FailedCount,
		GeneratedAt:     s.GeneratedAt.Format(time.RFC3339),
	}
}
