/*
Package sqlite provides a SQLite-backed implementation of the payroll
storage interfaces.

PURPOSE:
  Implements PayrollRecordStore, RuleRepository, EmployeeDirectory, and
  TimeTrackingService using SQLite. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

GUARANTEES ENFORCED HERE:
  - At most one line item per (run, employee): a UNIQUE index backs
    InsertLineItemIfAbsent, and a conflicting insert is success-no-op.
  - The period lock is a row in period_locks with the period id as primary
    key; INSERT OR IGNORE gives atomic try-acquire semantics.
  - Processed line items are never updated. The only delete on the
    line-item table is DiscardLineItems, legal only for cancelled runs.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - payroll/collaborators.go: interface definitions
  - payroll/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// Store implements the payroll storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time interface checks.
var (
	_ payroll.PayrollRecordStore  = (*Store)(nil)
	_ payroll.RuleRepository      = (*Store)(nil)
	_ payroll.EmployeeDirectory   = (*Store)(nil)
	_ payroll.TimeTrackingService = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Pay periods
	CREATE TABLE IF NOT EXISTS pay_periods (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		frequency TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pay_periods_start
		ON pay_periods(start_date);

	-- Payroll runs
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total_gross TEXT NOT NULL DEFAULT '0',
		total_deductions TEXT NOT NULL DEFAULT '0',
		total_net TEXT NOT NULL DEFAULT '0',
		processed_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		processed_at TEXT,
		FOREIGN KEY (period_id) REFERENCES pay_periods(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_period
		ON payroll_runs(period_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON payroll_runs(status);

	-- Line items: UNIQUE(run_id, employee_id) backs insert-if-absent so
	-- concurrent or retried workers can never double-post an employee.
	CREATE TABLE IF NOT EXISTS payroll_line_items (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		gross_regular TEXT NOT NULL DEFAULT '0',
		gross_overtime TEXT NOT NULL DEFAULT '0',
		gross_bonus TEXT NOT NULL DEFAULT '0',
		gross_commission TEXT NOT NULL DEFAULT '0',
		pre_tax TEXT NOT NULL DEFAULT '0',
		post_tax TEXT NOT NULL DEFAULT '0',
		taxes_json TEXT,
		deductions_json TEXT,
		net_pay TEXT NOT NULL DEFAULT '0',
		notes_json TEXT,
		failure_kind TEXT,
		failure_message TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES payroll_runs(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_line_items_run_employee
		ON payroll_line_items(run_id, employee_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_status
		ON payroll_line_items(status);

	-- Period locks: the primary key is the lock.
	CREATE TABLE IF NOT EXISTS period_locks (
		period_id TEXT PRIMARY KEY,
		acquired_at TEXT NOT NULL
	);

	-- Tax rules (immutable once effective; superseded, never edited)
	CREATE TABLE IF NOT EXISTS tax_rules (
		id TEXT PRIMARY KEY,
		jurisdiction TEXT NOT NULL,
		kind TEXT NOT NULL,
		rate TEXT NOT NULL DEFAULT '0',
		brackets_json TEXT,
		wage_cap TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tax_rules_jurisdiction
		ON tax_rules(jurisdiction, kind, effective_from);

	-- Deduction rules
	CREATE TABLE IF NOT EXISTS deduction_rules (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_percent BOOLEAN NOT NULL DEFAULT FALSE,
		pre_tax BOOLEAN NOT NULL DEFAULT FALSE,
		frequency TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_deduction_rules_employee
		ON deduction_rules(employee_id, effective_from);

	-- Employees (compensation profiles, HR-owned)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		pay_type TEXT NOT NULL,
		base_rate TEXT NOT NULL,
		overtime_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		standard_hours TEXT NOT NULL DEFAULT '0',
		filing_status TEXT NOT NULL DEFAULT 'single',
		exemptions INTEGER NOT NULL DEFAULT 0,
		federal_jurisdiction TEXT NOT NULL,
		state_jurisdiction TEXT NOT NULL,
		active_from TEXT NOT NULL,
		active_to TEXT
	);

	-- Approved hours per (employee, period start)
	CREATE TABLE IF NOT EXISTS approved_hours (
		employee_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		regular_hours TEXT NOT NULL DEFAULT '0',
		overtime_hours TEXT NOT NULL DEFAULT '0',
		bonus TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (employee_id, period_start)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PAY PERIODS
// =============================================================================

// SavePayPeriod validates and upserts a pay period, rejecting overlaps.
// Adjacent periods (one ends the day before the next starts) are allowed.
func (s *Store) SavePayPeriod(ctx context.Context, p payroll.PayPeriod) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var overlaps int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pay_periods
		WHERE id != ? AND start_date <= ? AND ? <= end_date`,
		string(p.ID), p.End.String(), p.Start.String()).Scan(&overlaps)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		return payroll.ErrPeriodOverlap
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pay_periods (id, start_date, end_date, payment_date, frequency, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		string(p.ID), p.Start.String(), p.End.String(), p.PaymentDate.String(),
		string(p.Frequency), string(p.Status))
	return err
}

func (s *Store) PayPeriod(ctx context.Context, id payroll.PeriodID) (payroll.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_date, end_date, payment_date, frequency, status
		FROM pay_periods WHERE id = ?`, string(id))
	return scanPeriod(row)
}

func (s *Store) ListPayPeriods(ctx context.Context) ([]payroll.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_date, end_date, payment_date, frequency, status
		FROM pay_periods ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePayPeriodStatus(ctx context.Context, id payroll.PeriodID, status payroll.PeriodStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pay_periods SET status = ? WHERE id = ?`, string(status), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payroll.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (payroll.PayPeriod, error) {
	var id, start, end, payment, frequency, status string
	if err := row.Scan(&id, &start, &end, &payment, &frequency, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.PayPeriod{}, payroll.ErrNotFound
		}
		return payroll.PayPeriod{}, err
	}
	startDate, err := payroll.ParseDate(start)
	if err != nil {
		return payroll.PayPeriod{}, err
	}
	endDate, err := payroll.ParseDate(end)
	if err != nil {
		return payroll.PayPeriod{}, err
	}
	paymentDate, err := payroll.ParseDate(payment)
	if err != nil {
		return payroll.PayPeriod{}, err
	}
	return payroll.PayPeriod{
		ID:          payroll.PeriodID(id),
		Start:       startDate,
		End:         endDate,
		PaymentDate: paymentDate,
		Frequency:   payroll.PayFrequency(frequency),
		Status:      payroll.PeriodStatus(status),
	}, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run payroll.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var processedAt any
	if run.ProcessedAt != nil {
		processedAt = run.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs
			(id, period_id, status, total_gross, total_deductions, total_net,
			 processed_count, failed_count, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_gross = excluded.total_gross,
			total_deductions = excluded.total_deductions,
			total_net = excluded.total_net,
			processed_count = excluded.processed_count,
			failed_count = excluded.failed_count,
			processed_at = excluded.processed_at`,
		string(run.ID), string(run.PeriodID), string(run.Status),
		run.TotalGross.String(), run.TotalDeductions.String(), run.TotalNet.String(),
		run.ProcessedCount, run.FailedCount,
		run.CreatedAt.UTC().Format(time.RFC3339Nano), processedAt)
	return err
}

func (s *Store) Run(ctx context.Context, id payroll.RunID) (payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, period_id, status, total_gross, total_deductions, total_net,
		       processed_count, failed_count, created_at, processed_at
		FROM payroll_runs WHERE id = ?`, string(id))
	return scanRun(row)
}

func (s *Store) RunsForPeriod(ctx context.Context, id payroll.PeriodID) ([]payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_id, status, total_gross, total_deductions, total_net,
		       processed_count, failed_count, created_at, processed_at
		FROM payroll_runs WHERE period_id = ? ORDER BY created_at`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (payroll.PayrollRun, error) {
	var (
		id, periodID, status               string
		totalGross, totalDeductions, total string
		processedCount, failedCount        int
		createdAt                          string
		processedAt                        sql.NullString
	)
	err := row.Scan(&id, &periodID, &status, &totalGross, &totalDeductions, &total,
		&processedCount, &failedCount, &createdAt, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.PayrollRun{}, payroll.ErrNotFound
		}
		return payroll.PayrollRun{}, err
	}

	run := payroll.PayrollRun{
		ID:              payroll.RunID(id),
		PeriodID:        payroll.PeriodID(periodID),
		Status:          payroll.RunStatus(status),
		TotalGross:      mustDecimalCol(totalGross),
		TotalDeductions: mustDecimalCol(totalDeductions),
		TotalNet:        mustDecimalCol(total),
		ProcessedCount:  processedCount,
		FailedCount:     failedCount,
	}
	run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return payroll.PayrollRun{}, err
	}
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, processedAt.String)
		if err != nil {
			return payroll.PayrollRun{}, err
		}
		run.ProcessedAt = &t
	}
	return run, nil
}

// =============================================================================
// PERIOD LOCK
// =============================================================================

// TryAcquirePeriodLock atomically claims the period. The lock row's primary
// key makes a second insert a no-op, reported as not acquired.
func (s *Store) TryAcquirePeriodLock(ctx context.Context, id payroll.PeriodID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO period_locks (period_id, acquired_at) VALUES (?, ?)`,
		string(id), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ReleasePeriodLock(ctx context.Context, id payroll.PeriodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM period_locks WHERE period_id = ?`, string(id))
	return err
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// InsertLineItemIfAbsent inserts keyed by (run, employee). A conflicting
// insert returns the existing item with inserted=false, not an error.
func (s *Store) InsertLineItemIfAbsent(ctx context.Context, item payroll.PayrollLineItem) (bool, payroll.PayrollLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taxesJSON, err := json.Marshal(item.Taxes)
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}
	deductionsJSON, err := json.Marshal(item.Deductions)
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}
	notesJSON, err := json.Marshal(item.Notes)
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO payroll_line_items
			(id, run_id, employee_id, status,
			 gross_regular, gross_overtime, gross_bonus, gross_commission,
			 pre_tax, post_tax, taxes_json, deductions_json, net_pay,
			 notes_json, failure_kind, failure_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(item.ID), string(item.RunID), string(item.EmployeeID), string(item.Status),
		item.Gross.Regular.String(), item.Gross.Overtime.String(),
		item.Gross.Bonus.String(), item.Gross.Commission.String(),
		item.PreTax.String(), item.PostTax.String(),
		string(taxesJSON), string(deductionsJSON), item.NetPay.String(),
		string(notesJSON), item.FailureKind, item.FailureMessage,
		item.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}
	if n == 1 {
		return true, item, nil
	}

	existing, err := s.lineItemByKey(ctx, item.RunID, item.EmployeeID)
	if err != nil {
		return false, payroll.PayrollLineItem{}, err
	}
	return false, existing, nil
}

func (s *Store) lineItemByKey(ctx context.Context, runID payroll.RunID, employeeID payroll.EmployeeID) (payroll.PayrollLineItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, employee_id, status,
		       gross_regular, gross_overtime, gross_bonus, gross_commission,
		       pre_tax, post_tax, taxes_json, deductions_json, net_pay,
		       notes_json, failure_kind, failure_message, created_at
		FROM payroll_line_items WHERE run_id = ? AND employee_id = ?`,
		string(runID), string(employeeID))
	return scanLineItem(row)
}

func (s *Store) LineItems(ctx context.Context, runID payroll.RunID) ([]payroll.PayrollLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, employee_id, status,
		       gross_regular, gross_overtime, gross_bonus, gross_commission,
		       pre_tax, post_tax, taxes_json, deductions_json, net_pay,
		       notes_json, failure_kind, failure_message, created_at
		FROM payroll_line_items WHERE run_id = ? ORDER BY employee_id`, string(runID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollLineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DiscardLineItems removes the line items of a cancelled run. This is the
// single delete path on the line-item table.
func (s *Store) DiscardLineItems(ctx context.Context, runID payroll.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM payroll_line_items WHERE run_id = ?`, string(runID))
	return err
}

func scanLineItem(row rowScanner) (payroll.PayrollLineItem, error) {
	var (
		id, runID, employeeID, status                   string
		regular, overtime, bonus, commission            string
		preTax, postTax, taxesJSON, deductionsJSON, net string
		notesJSON                                       sql.NullString
		failureKind, failureMessage                     sql.NullString
		createdAt                                       string
	)
	err := row.Scan(&id, &runID, &employeeID, &status,
		&regular, &overtime, &bonus, &commission,
		&preTax, &postTax, &taxesJSON, &deductionsJSON, &net,
		&notesJSON, &failureKind, &failureMessage, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.PayrollLineItem{}, payroll.ErrNotFound
		}
		return payroll.PayrollLineItem{}, err
	}

	item := payroll.PayrollLineItem{
		ID:         payroll.LineItemID(id),
		RunID:      payroll.RunID(runID),
		EmployeeID: payroll.EmployeeID(employeeID),
		Status:     payroll.LineItemStatus(status),
		Gross: payroll.GrossBreakdown{
			Regular:    mustDecimalCol(regular),
			Overtime:   mustDecimalCol(overtime),
			Bonus:      mustDecimalCol(bonus),
			Commission: mustDecimalCol(commission),
		},
		PreTax:         mustDecimalCol(preTax),
		PostTax:        mustDecimalCol(postTax),
		NetPay:         mustDecimalCol(net),
		FailureKind:    failureKind.String,
		FailureMessage: failureMessage.String,
	}
	if err := json.Unmarshal([]byte(taxesJSON), &item.Taxes); err != nil {
		return payroll.PayrollLineItem{}, err
	}
	if err := json.Unmarshal([]byte(deductionsJSON), &item.Deductions); err != nil {
		return payroll.PayrollLineItem{}, err
	}
	if notesJSON.Valid && notesJSON.String != "" {
		if err := json.Unmarshal([]byte(notesJSON.String), &item.Notes); err != nil {
			return payroll.PayrollLineItem{}, err
		}
	}
	item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return payroll.PayrollLineItem{}, err
	}
	return item, nil
}

// =============================================================================
// RULE REPOSITORY
// =============================================================================

// SaveTaxRule validates and persists a rule. Rules are immutable once
// effective; there is deliberately no update path.
func (s *Store) SaveTaxRule(ctx context.Context, rule payroll.TaxRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bracketsJSON, err := json.Marshal(rule.Brackets)
	if err != nil {
		return err
	}
	var wageCap, effectiveTo any
	if rule.WageCap != nil {
		wageCap = rule.WageCap.String()
	}
	if rule.EffectiveTo != nil {
		effectiveTo = rule.EffectiveTo.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tax_rules
			(id, jurisdiction, kind, rate, brackets_json, wage_cap, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rule.ID), rule.Jurisdiction, string(rule.Kind), rule.Rate.String(),
		string(bracketsJSON), wageCap, rule.EffectiveFrom.String(), effectiveTo)
	return err
}

func (s *Store) TaxRules(ctx context.Context, jurisdiction string, asOf payroll.Date) ([]payroll.TaxRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, jurisdiction, kind, rate, brackets_json, wage_cap, effective_from, effective_to
		FROM tax_rules
		WHERE jurisdiction = ? AND effective_from <= ?
		  AND (effective_to IS NULL OR ? < effective_to)`,
		jurisdiction, asOf.String(), asOf.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.TaxRule
	for rows.Next() {
		var (
			id, jur, kind, rate, bracketsJSON string
			wageCap, effectiveTo              sql.NullString
			effectiveFrom                     string
		)
		if err := rows.Scan(&id, &jur, &kind, &rate, &bracketsJSON, &wageCap, &effectiveFrom, &effectiveTo); err != nil {
			return nil, err
		}
		rule := payroll.TaxRule{
			ID:           payroll.RuleID(id),
			Jurisdiction: jur,
			Kind:         payroll.TaxKind(kind),
			Rate:         mustDecimalCol(rate),
		}
		if err := json.Unmarshal([]byte(bracketsJSON), &rule.Brackets); err != nil {
			return nil, err
		}
		if wageCap.Valid {
			capValue := mustDecimalCol(wageCap.String)
			rule.WageCap = &capValue
		}
		rule.EffectiveFrom, err = payroll.ParseDate(effectiveFrom)
		if err != nil {
			return nil, err
		}
		if effectiveTo.Valid {
			to, err := payroll.ParseDate(effectiveTo.String)
			if err != nil {
				return nil, err
			}
			rule.EffectiveTo = &to
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *Store) SaveDeductionRule(ctx context.Context, rule payroll.DeductionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var effectiveTo any
	if rule.EffectiveTo != nil {
		effectiveTo = rule.EffectiveTo.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deduction_rules
			(id, employee_id, kind, amount, is_percent, pre_tax, frequency, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rule.ID), string(rule.EmployeeID), string(rule.Kind), rule.Amount.String(),
		rule.IsPercent, rule.PreTax, string(rule.Frequency),
		rule.EffectiveFrom.String(), effectiveTo)
	return err
}

func (s *Store) DeductionRules(ctx context.Context, id payroll.EmployeeID, asOf payroll.Date) ([]payroll.DeductionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, kind, amount, is_percent, pre_tax, frequency, effective_from, effective_to
		FROM deduction_rules
		WHERE employee_id = ? AND effective_from <= ?
		  AND (effective_to IS NULL OR ? < effective_to)
		ORDER BY id`,
		string(id), asOf.String(), asOf.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.DeductionRule
	for rows.Next() {
		var (
			ruleID, employeeID, kind, amount, frequency string
			isPercent, preTax                           bool
			effectiveFrom                               string
			effectiveTo                                 sql.NullString
		)
		if err := rows.Scan(&ruleID, &employeeID, &kind, &amount, &isPercent, &preTax, &frequency, &effectiveFrom, &effectiveTo); err != nil {
			return nil, err
		}
		rule := payroll.DeductionRule{
			ID:         payroll.RuleID(ruleID),
			EmployeeID: payroll.EmployeeID(employeeID),
			Kind:       payroll.DeductionKind(kind),
			Amount:     mustDecimalCol(amount),
			IsPercent:  isPercent,
			PreTax:     preTax,
			Frequency:  payroll.PayFrequency(frequency),
		}
		rule.EffectiveFrom, err = payroll.ParseDate(effectiveFrom)
		if err != nil {
			return nil, err
		}
		if effectiveTo.Valid {
			to, err := payroll.ParseDate(effectiveTo.String)
			if err != nil {
				return nil, err
			}
			rule.EffectiveTo = &to
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, profile payroll.CompensationProfile, activeFrom payroll.Date, activeTo *payroll.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var to any
	if activeTo != nil {
		to = activeTo.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees
			(id, pay_type, base_rate, overtime_eligible, standard_hours,
			 filing_status, exemptions, federal_jurisdiction, state_jurisdiction,
			 active_from, active_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pay_type = excluded.pay_type,
			base_rate = excluded.base_rate,
			overtime_eligible = excluded.overtime_eligible,
			standard_hours = excluded.standard_hours,
			filing_status = excluded.filing_status,
			exemptions = excluded.exemptions,
			federal_jurisdiction = excluded.federal_jurisdiction,
			state_jurisdiction = excluded.state_jurisdiction,
			active_from = excluded.active_from,
			active_to = excluded.active_to`,
		string(profile.EmployeeID), string(profile.PayType), profile.BaseRate.String(),
		profile.OvertimeEligible, profile.StandardHours.String(),
		string(profile.FilingStatus), profile.Exemptions,
		profile.FederalJurisdiction, profile.StateJurisdiction,
		activeFrom.String(), to)
	return err
}

// CompensationProfile returns the profile if the employee is active as of
// the date; otherwise an error wrapping ErrNotFound.
func (s *Store) CompensationProfile(ctx context.Context, id payroll.EmployeeID, asOf payroll.Date) (payroll.CompensationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pay_type, base_rate, overtime_eligible, standard_hours,
		       filing_status, exemptions, federal_jurisdiction, state_jurisdiction
		FROM employees
		WHERE id = ? AND active_from <= ?
		  AND (active_to IS NULL OR ? < active_to)`,
		string(id), asOf.String(), asOf.String())

	var (
		employeeID, payType, baseRate, standardHours         string
		filingStatus, federalJurisdiction, stateJurisdiction string
		overtimeEligible                                     bool
		exemptions                                           int
	)
	err := row.Scan(&employeeID, &payType, &baseRate, &overtimeEligible, &standardHours,
		&filingStatus, &exemptions, &federalJurisdiction, &stateJurisdiction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.CompensationProfile{}, payroll.ErrNotFound
		}
		return payroll.CompensationProfile{}, err
	}
	return payroll.CompensationProfile{
		EmployeeID:          payroll.EmployeeID(employeeID),
		PayType:             payroll.PayType(payType),
		BaseRate:            mustDecimalCol(baseRate),
		OvertimeEligible:    overtimeEligible,
		StandardHours:       mustDecimalCol(standardHours),
		FilingStatus:        payroll.FilingStatus(filingStatus),
		Exemptions:          exemptions,
		FederalJurisdiction: federalJurisdiction,
		StateJurisdiction:   stateJurisdiction,
	}, nil
}

// ListEmployeeIDs returns every employee active as of the date, for batch
// target-set selection.
func (s *Store) ListEmployeeIDs(ctx context.Context, asOf payroll.Date) ([]payroll.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM employees
		WHERE active_from <= ? AND (active_to IS NULL OR ? < active_to)
		ORDER BY id`,
		asOf.String(), asOf.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.EmployeeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, payroll.EmployeeID(id))
	}
	return out, rows.Err()
}

// =============================================================================
// TIME TRACKING
// =============================================================================

func (s *Store) SaveApprovedHours(ctx context.Context, id payroll.EmployeeID, periodStart payroll.Date, worked payroll.WorkedTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approved_hours
			(employee_id, period_start, regular_hours, overtime_hours, bonus, commission)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, period_start) DO UPDATE SET
			regular_hours = excluded.regular_hours,
			overtime_hours = excluded.overtime_hours,
			bonus = excluded.bonus,
			commission = excluded.commission`,
		string(id), periodStart.String(),
		worked.RegularHours.String(), worked.OvertimeHours.String(),
		worked.Bonus.String(), worked.Commission.String())
	return err
}

// ApprovedHours returns the recorded hours for the period, or an error
// wrapping ErrHoursUnavailable when none were recorded.
func (s *Store) ApprovedHours(ctx context.Context, id payroll.EmployeeID, period payroll.PayPeriod) (payroll.WorkedTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT regular_hours, overtime_hours, bonus, commission
		FROM approved_hours WHERE employee_id = ? AND period_start = ?`,
		string(id), period.Start.String())

	var regular, overtime, bonus, commission string
	err := row.Scan(&regular, &overtime, &bonus, &commission)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.WorkedTime{}, payroll.ErrHoursUnavailable
		}
		return payroll.WorkedTime{}, err
	}
	return payroll.WorkedTime{
		RegularHours:  mustDecimalCol(regular),
		OvertimeHours: mustDecimalCol(overtime),
		Bonus:         mustDecimalCol(bonus),
		Commission:    mustDecimalCol(commission),
	}, nil
}

// mustDecimalCol parses a decimal column that this store wrote itself.
func mustDecimalCol(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
