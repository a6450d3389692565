// Package store provides in-memory implementations of the payroll
// collaborator interfaces, used in tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY RECORD STORE
// =============================================================================

// Memory implements payroll.PayrollRecordStore and payroll.RuleRepository
// with the same uniqueness and lock guarantees the SQLite store provides.
type Memory struct {
	mu             sync.RWMutex
	periods        map[payroll.PeriodID]payroll.PayPeriod
	runs           map[payroll.RunID]payroll.PayrollRun
	runsByPeriod   map[payroll.PeriodID][]payroll.RunID
	items          map[payroll.RunID]map[payroll.EmployeeID]payroll.PayrollLineItem
	locks          map[payroll.PeriodID]bool
	taxRules       map[string][]payroll.TaxRule
	deductionRules map[payroll.EmployeeID][]payroll.DeductionRule
}

// Compile-time interface checks.
var (
	_ payroll.PayrollRecordStore  = (*Memory)(nil)
	_ payroll.RuleRepository      = (*Memory)(nil)
	_ payroll.EmployeeDirectory   = (*StaticDirectory)(nil)
	_ payroll.TimeTrackingService = (*StaticTimeSheets)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		periods:        make(map[payroll.PeriodID]payroll.PayPeriod),
		runs:           make(map[payroll.RunID]payroll.PayrollRun),
		runsByPeriod:   make(map[payroll.PeriodID][]payroll.RunID),
		items:          make(map[payroll.RunID]map[payroll.EmployeeID]payroll.PayrollLineItem),
		locks:          make(map[payroll.PeriodID]bool),
		taxRules:       make(map[string][]payroll.TaxRule),
		deductionRules: make(map[payroll.EmployeeID][]payroll.DeductionRule),
	}
}

// -----------------------------------------------------------------------------
// Pay periods
// -----------------------------------------------------------------------------

// SavePayPeriod validates and persists a pay period, rejecting overlaps
// with existing periods. Adjacent periods are allowed.
func (m *Memory) SavePayPeriod(_ context.Context, p payroll.PayPeriod) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.periods {
		if existing.ID == p.ID {
			continue
		}
		if existing.Overlaps(p) {
			return payroll.ErrPeriodOverlap
		}
	}
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) PayPeriod(_ context.Context, id payroll.PeriodID) (payroll.PayPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return payroll.PayPeriod{}, payroll.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPayPeriods(_ context.Context) ([]payroll.PayPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.PayPeriod, 0, len(m.periods))
	for _, p := range m.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) UpdatePayPeriodStatus(_ context.Context, id payroll.PeriodID, status payroll.PeriodStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return payroll.ErrNotFound
	}
	p.Status = status
	m.periods[id] = p
	return nil
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

func (m *Memory) SaveRun(_ context.Context, run payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.runs[run.ID]; !seen {
		m.runsByPeriod[run.PeriodID] = append(m.runsByPeriod[run.PeriodID], run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) Run(_ context.Context, id payroll.RunID) (payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrNotFound
	}
	return run, nil
}

func (m *Memory) RunsForPeriod(_ context.Context, id payroll.PeriodID) ([]payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayrollRun
	for _, runID := range m.runsByPeriod[id] {
		out = append(out, m.runs[runID])
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Period lock
// -----------------------------------------------------------------------------

func (m *Memory) TryAcquirePeriodLock(_ context.Context, id payroll.PeriodID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[id] {
		return false, nil
	}
	m.locks[id] = true
	return true, nil
}

func (m *Memory) ReleasePeriodLock(_ context.Context, id payroll.PeriodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
	return nil
}

// -----------------------------------------------------------------------------
// Line items
// -----------------------------------------------------------------------------

// InsertLineItemIfAbsent inserts keyed by (run, employee). A duplicate
// attempt is success-no-op: it returns inserted=false with the existing item.
func (m *Memory) InsertLineItemIfAbsent(_ context.Context, item payroll.PayrollLineItem) (bool, payroll.PayrollLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEmployee, ok := m.items[item.RunID]
	if !ok {
		byEmployee = make(map[payroll.EmployeeID]payroll.PayrollLineItem)
		m.items[item.RunID] = byEmployee
	}
	if existing, dup := byEmployee[item.EmployeeID]; dup {
		return false, existing, nil
	}
	byEmployee[item.EmployeeID] = item
	return true, item, nil
}

func (m *Memory) LineItems(_ context.Context, runID payroll.RunID) ([]payroll.PayrollLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayrollLineItem
	for _, item := range m.items[runID] {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *Memory) DiscardLineItems(_ context.Context, runID payroll.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, runID)
	return nil
}

// -----------------------------------------------------------------------------
// Rule repository
// -----------------------------------------------------------------------------

// AddTaxRule validates and registers a tax rule. Malformed bracket
// schedules are rejected at load time, never at calculation time.
func (m *Memory) AddTaxRule(rule payroll.TaxRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxRules[rule.Jurisdiction] = append(m.taxRules[rule.Jurisdiction], rule)
	return nil
}

func (m *Memory) AddDeductionRule(rule payroll.DeductionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deductionRules[rule.EmployeeID] = append(m.deductionRules[rule.EmployeeID], rule)
	return nil
}

func (m *Memory) TaxRules(_ context.Context, jurisdiction string, asOf payroll.Date) ([]payroll.TaxRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.TaxRule
	for _, rule := range m.taxRules[jurisdiction] {
		if rule.InEffect(asOf) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *Memory) DeductionRules(_ context.Context, id payroll.EmployeeID, asOf payroll.Date) ([]payroll.DeductionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.DeductionRule
	for _, rule := range m.deductionRules[id] {
		if rule.InEffect(asOf) {
			out = append(out, rule)
		}
	}
	return out, nil
}

// =============================================================================
// STATIC DIRECTORY AND TIMESHEETS - fixtures for tests and dev seeding
// =============================================================================

// StaticDirectory is a map-backed EmployeeDirectory.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[payroll.EmployeeID]payroll.CompensationProfile
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{profiles: make(map[payroll.EmployeeID]payroll.CompensationProfile)}
}

func (d *StaticDirectory) Put(p payroll.CompensationProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.EmployeeID] = p
}

func (d *StaticDirectory) CompensationProfile(_ context.Context, id payroll.EmployeeID, _ payroll.Date) (payroll.CompensationProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	if !ok {
		return payroll.CompensationProfile{}, payroll.ErrNotFound
	}
	return p, nil
}

// StaticTimeSheets is a map-backed TimeTrackingService. Employees without
// an entry get ErrHoursUnavailable, exercising the calculator fallback.
type StaticTimeSheets struct {
	mu    sync.RWMutex
	hours map[payroll.EmployeeID]payroll.WorkedTime
}

func NewStaticTimeSheets() *StaticTimeSheets {
	return &StaticTimeSheets{hours: make(map[payroll.EmployeeID]payroll.WorkedTime)}
}

func (t *StaticTimeSheets) Put(id payroll.EmployeeID, worked payroll.WorkedTime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hours[id] = worked
}

func (t *StaticTimeSheets) ApprovedHours(_ context.Context, id payroll.EmployeeID, _ payroll.PayPeriod) (payroll.WorkedTime, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	worked, ok := t.hours[id]
	if !ok {
		return payroll.WorkedTime{}, payroll.ErrHoursUnavailable
	}
	return worked, nil
}
