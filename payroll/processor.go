/*
processor.go - Batch payroll orchestration

PURPOSE:
  Orchestrates a payroll run over a pay period: fan-out of per-employee
  calculation across a bounded worker pool, per-item persistence,
  aggregation, state transitions, idempotency, and partial-failure
  handling.

STATE MACHINE (per run):
  draft -> processing -> {processed, partially_failed, cancelled}

  `processing` is entered only with the period lock held. Re-submitting a
  period that already has a processed/partially_failed run returns that
  run unchanged - no recomputation, no duplicate postings.

PARTIAL FAILURE:
  A per-employee failure is recorded as a `failed` line item carrying the
  error kind and message; the batch continues. After all employees are
  attempted the run lands on `processed` (zero failures) or
  `partially_failed`. Nothing here is fatal to the process.

CONCURRENCY:
  Per-employee calculation is pure, so workers run in parallel. The only
  shared mutable resources are the period lock and the line-item store;
  line-item writes are insert-if-absent keyed by (run, employee), so a
  retried worker can never double-post. Aggregation is a single-writer
  pass after all per-item work is terminal. Runs for distinct periods
  execute fully concurrently; there is no global lock.

SEE ALSO:
  - calculator.go: the per-employee computation
  - collaborators.go: store and sink contracts
*/
package payroll

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Defaults for processor tuning knobs.
const (
	DefaultWorkers    = 4
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
)

// BatchPayrollProcessor coordinates payroll runs.
type BatchPayrollProcessor struct {
	Store      PayrollRecordStore
	Directory  EmployeeDirectory
	Calculator *PayrollCalculator
	Events     PayrollEventSink

	// Workers bounds the per-employee fan-out.
	Workers int
	// Timeout bounds each per-employee calculation attempt.
	Timeout time.Duration
	// MaxRetries bounds automatic retries after a calculation timeout.
	MaxRetries int

	mu     sync.Mutex
	active map[RunID]*runControl
}

// runControl tracks an in-flight run so cancellation can reach it.
type runControl struct {
	cancelled atomic.Bool
}

func NewBatchPayrollProcessor(store PayrollRecordStore, directory EmployeeDirectory, calculator *PayrollCalculator, events PayrollEventSink) *BatchPayrollProcessor {
	if events == nil {
		events = NopEventSink{}
	}
	return &BatchPayrollProcessor{
		Store:      store,
		Directory:  directory,
		Calculator: calculator,
		Events:     events,
		Workers:    DefaultWorkers,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		active:     make(map[RunID]*runControl),
	}
}

// =============================================================================
// PROCESS RUN
// =============================================================================

// ProcessRun executes payroll for every employee in the target set.
//
// Idempotent re-submission: if the period already has a terminal
// non-cancelled run, that run is returned unchanged. A conflict with an
// actively processing run returns ConcurrentRunConflictError.
func (p *BatchPayrollProcessor) ProcessRun(ctx context.Context, periodID PeriodID, employeeIDs []EmployeeID) (PayrollRun, error) {
	period, err := p.Store.PayPeriod(ctx, periodID)
	if err != nil {
		return PayrollRun{}, err
	}

	if existing, found, err := p.terminalRun(ctx, periodID); err != nil {
		return PayrollRun{}, err
	} else if found {
		return existing, nil
	}

	acquired, err := p.Store.TryAcquirePeriodLock(ctx, periodID)
	if err != nil {
		return PayrollRun{}, err
	}
	if !acquired {
		// Lost the race. A terminal run means an idempotent retry; an
		// active run is a genuine conflict.
		if existing, found, err := p.terminalRun(ctx, periodID); err != nil {
			return PayrollRun{}, err
		} else if found {
			return existing, nil
		}
		activeID := p.activeRunID(ctx, periodID)
		return PayrollRun{}, &ConcurrentRunConflictError{PeriodID: periodID, ActiveRunID: activeID}
	}

	run := PayrollRun{
		ID:        RunID(uuid.NewString()),
		PeriodID:  periodID,
		Status:    RunDraft,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Store.SaveRun(ctx, run); err != nil {
		p.Store.ReleasePeriodLock(ctx, periodID)
		return PayrollRun{}, err
	}

	run.Status = RunProcessing
	if err := p.Store.SaveRun(ctx, run); err != nil {
		p.Store.ReleasePeriodLock(ctx, periodID)
		return PayrollRun{}, err
	}

	control := &runControl{}
	p.mu.Lock()
	p.active[run.ID] = control
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, run.ID)
		p.mu.Unlock()
	}()

	p.fanOut(ctx, run, period, employeeIDs, control)

	return p.finalize(ctx, run, control.cancelled.Load())
}

// fanOut runs per-employee calculations over the bounded worker pool.
func (p *BatchPayrollProcessor) fanOut(ctx context.Context, run PayrollRun, period PayPeriod, employeeIDs []EmployeeID, control *runControl) {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	jobs := make(chan EmployeeID)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				p.processEmployee(ctx, run, period, id, control)
			}
		}()
	}
	for _, id := range employeeIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
}

// processEmployee computes and persists one line item, retrying bounded
// timeouts. Results are discarded once the run is cancelled.
func (p *BatchPayrollProcessor) processEmployee(ctx context.Context, run PayrollRun, period PayPeriod, employeeID EmployeeID, control *runControl) {
	if control.cancelled.Load() {
		return
	}

	item, err := p.calculateWithRetry(ctx, period, employeeID)

	// In-flight calculations finish, but a cancelled run produces no
	// line items.
	if control.cancelled.Load() {
		return
	}

	item.ID = LineItemID(uuid.NewString())
	item.RunID = run.ID
	item.EmployeeID = employeeID
	item.CreatedAt = time.Now().UTC()

	if err != nil {
		item.Status = LineItemFailed
		item.FailureKind = FailureKind(err)
		item.FailureMessage = err.Error()
		if IsOperatorAlert(err) {
			log.Printf("[Payroll] ALERT: configuration gap for employee %s in run %s: %v", employeeID, run.ID, err)
		}
	} else {
		item.Status = LineItemProcessed
	}

	inserted, _, insertErr := p.Store.InsertLineItemIfAbsent(ctx, item)
	if insertErr != nil {
		log.Printf("[Payroll] failed to persist line item for employee %s in run %s: %v", employeeID, run.ID, insertErr)
		return
	}
	if !inserted {
		// Duplicate insert under retry is success-no-op.
		return
	}
}

// calculateWithRetry applies the bounded timeout per attempt and retries
// timeouts up to MaxRetries before recording a terminal timeout failure.
func (p *BatchPayrollProcessor) calculateWithRetry(ctx context.Context, period PayPeriod, employeeID EmployeeID) (PayrollLineItem, error) {
	attempts := 1 + p.MaxRetries
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		item, err := p.calculateOnce(ctx, period, employeeID)
		if err == nil {
			return item, nil
		}
		lastErr = err
		if !errors.Is(err, ErrCalculationTimeout) {
			return PayrollLineItem{}, err
		}
	}
	return PayrollLineItem{}, lastErr
}

func (p *BatchPayrollProcessor) calculateOnce(ctx context.Context, period PayPeriod, employeeID EmployeeID) (PayrollLineItem, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		item PayrollLineItem
		err  error
	}
	done := make(chan result, 1)
	go func() {
		profile, err := p.Directory.CompensationProfile(attemptCtx, employeeID, period.PaymentDate)
		if err != nil {
			done <- result{err: err}
			return
		}
		item, err := p.Calculator.Calculate(attemptCtx, profile, period)
		done <- result{item: item, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return PayrollLineItem{}, ErrCalculationTimeout
		}
		return r.item, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Caller context gone, not a per-employee timeout.
			return PayrollLineItem{}, ctx.Err()
		}
		return PayrollLineItem{}, ErrCalculationTimeout
	}
}

// =============================================================================
// FINALIZATION - single-writer aggregation pass
// =============================================================================

// finalize transitions the run to its terminal state, aggregates totals
// over successful line items, releases the period lock, and notifies the
// event sink. Aggregation happens only after all per-employee work is
// terminal, as a single-writer pass.
func (p *BatchPayrollProcessor) finalize(ctx context.Context, run PayrollRun, cancelled bool) (PayrollRun, error) {
	if cancelled {
		return p.finalizeCancelled(ctx, run)
	}

	items, err := p.Store.LineItems(ctx, run.ID)
	if err != nil {
		p.Store.ReleasePeriodLock(ctx, run.PeriodID)
		return PayrollRun{}, err
	}

	gross, deductions, net := decimal.Zero, decimal.Zero, decimal.Zero
	processed, failed := 0, 0
	for i := range items {
		item := &items[i]
		if item.Status != LineItemProcessed {
			failed++
			continue
		}
		processed++
		gross = gross.Add(item.Gross.Total())
		deductions = deductions.Add(item.DeductionTotal()).Add(item.TaxTotal())
		net = net.Add(item.NetPay)
	}

	run.TotalGross = RoundCents(gross)
	run.TotalDeductions = RoundCents(deductions)
	run.TotalNet = RoundCents(net)
	run.ProcessedCount = processed
	run.FailedCount = failed
	if failed == 0 {
		run.Status = RunProcessed
	} else {
		run.Status = RunPartiallyFailed
	}
	now := time.Now().UTC()
	run.ProcessedAt = &now

	if err := p.Store.SaveRun(ctx, run); err != nil {
		p.Store.ReleasePeriodLock(ctx, run.PeriodID)
		return PayrollRun{}, err
	}
	if err := p.Store.UpdatePayPeriodStatus(ctx, run.PeriodID, PeriodClosed); err != nil {
		log.Printf("[Payroll] failed to close period %s: %v", run.PeriodID, err)
	}
	if err := p.Store.ReleasePeriodLock(ctx, run.PeriodID); err != nil {
		log.Printf("[Payroll] failed to release lock for period %s: %v", run.PeriodID, err)
	}

	p.emit(ctx, run)
	return run, nil
}

func (p *BatchPayrollProcessor) finalizeCancelled(ctx context.Context, run PayrollRun) (PayrollRun, error) {
	if err := p.Store.DiscardLineItems(ctx, run.ID); err != nil {
		log.Printf("[Payroll] failed to discard line items for cancelled run %s: %v", run.ID, err)
	}
	run.Status = RunCancelled
	if err := p.Store.SaveRun(ctx, run); err != nil {
		p.Store.ReleasePeriodLock(ctx, run.PeriodID)
		return PayrollRun{}, err
	}
	if err := p.Store.ReleasePeriodLock(ctx, run.PeriodID); err != nil {
		log.Printf("[Payroll] failed to release lock for period %s: %v", run.PeriodID, err)
	}
	p.emit(ctx, run)
	return run, nil
}

// emit notifies the sink of a terminal transition. Fire-and-forget:
// delivery failures never affect run status.
func (p *BatchPayrollProcessor) emit(ctx context.Context, run PayrollRun) {
	event := RunEvent{RunID: run.ID, PeriodID: run.PeriodID, Status: run.Status}
	if err := p.Events.RunCompleted(ctx, event); err != nil {
		log.Printf("[Payroll] event delivery failed for run %s: %v", run.ID, err)
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel cancels a run in draft or processing. If the run is actively
// processing in this process, in-flight calculations finish but their
// results are discarded; the finalization path releases the lock. In that
// case cancellation is asynchronous: the returned run still reads
// `processing` and settles to `cancelled` once the workers drain. For a
// run that is not in-flight here (e.g. after a crash), the store-side
// state is cancelled directly.
func (p *BatchPayrollProcessor) Cancel(ctx context.Context, runID RunID) (PayrollRun, error) {
	run, err := p.Store.Run(ctx, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	if run.Status.Terminal() {
		return PayrollRun{}, ErrRunNotCancellable
	}

	p.mu.Lock()
	control, inFlight := p.active[runID]
	p.mu.Unlock()

	if inFlight {
		control.cancelled.Store(true)
		return run, nil
	}

	// Not in flight: re-check persisted status rather than trust any
	// in-memory flag, then settle state directly.
	if err := p.Store.DiscardLineItems(ctx, runID); err != nil {
		return PayrollRun{}, err
	}
	run.Status = RunCancelled
	if err := p.Store.SaveRun(ctx, run); err != nil {
		return PayrollRun{}, err
	}
	if err := p.Store.ReleasePeriodLock(ctx, run.PeriodID); err != nil {
		log.Printf("[Payroll] failed to release lock for period %s: %v", run.PeriodID, err)
	}
	p.emit(ctx, run)
	return run, nil
}

// =============================================================================
// CRASH RECOVERY
// =============================================================================

// Recover settles runs left in `processing` by a crashed process. Each such
// run (with no in-flight control here) is transitioned to partially_failed
// with aggregates over the line items that did persist, and its period lock
// is released. Run status is re-read from the store, never from memory.
func (p *BatchPayrollProcessor) Recover(ctx context.Context) error {
	periods, err := p.Store.ListPayPeriods(ctx)
	if err != nil {
		return err
	}
	for _, period := range periods {
		runs, err := p.Store.RunsForPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			if run.Status != RunProcessing {
				continue
			}
			p.mu.Lock()
			_, inFlight := p.active[run.ID]
			p.mu.Unlock()
			if inFlight {
				continue
			}
			log.Printf("[Payroll] recovering interrupted run %s for period %s", run.ID, run.PeriodID)
			if _, err := p.finalizeInterrupted(ctx, run); err != nil {
				log.Printf("[Payroll] recovery failed for run %s: %v", run.ID, err)
			}
		}
	}
	return nil
}

// finalizeInterrupted is the recovery variant of finalize: whatever line
// items persisted stand, and the run is marked partially_failed since the
// employee set cannot be known to be complete.
func (p *BatchPayrollProcessor) finalizeInterrupted(ctx context.Context, run PayrollRun) (PayrollRun, error) {
	items, err := p.Store.LineItems(ctx, run.ID)
	if err != nil {
		return PayrollRun{}, err
	}

	gross, deductions, net := decimal.Zero, decimal.Zero, decimal.Zero
	processed, failed := 0, 0
	for i := range items {
		item := &items[i]
		if item.Status != LineItemProcessed {
			failed++
			continue
		}
		processed++
		gross = gross.Add(item.Gross.Total())
		deductions = deductions.Add(item.DeductionTotal()).Add(item.TaxTotal())
		net = net.Add(item.NetPay)
	}

	run.TotalGross = RoundCents(gross)
	run.TotalDeductions = RoundCents(deductions)
	run.TotalNet = RoundCents(net)
	run.ProcessedCount = processed
	run.FailedCount = failed
	run.Status = RunPartiallyFailed
	now := time.Now().UTC()
	run.ProcessedAt = &now

	if err := p.Store.SaveRun(ctx, run); err != nil {
		return PayrollRun{}, err
	}
	if err := p.Store.ReleasePeriodLock(ctx, run.PeriodID); err != nil {
		log.Printf("[Payroll] failed to release lock for period %s: %v", run.PeriodID, err)
	}
	p.emit(ctx, run)
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// terminalRun finds a processed/partially_failed run for the period.
// Cancelled runs never satisfy idempotent re-submission.
func (p *BatchPayrollProcessor) terminalRun(ctx context.Context, periodID PeriodID) (PayrollRun, bool, error) {
	runs, err := p.Store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return PayrollRun{}, false, err
	}
	for _, run := range runs {
		if run.Status == RunProcessed || run.Status == RunPartiallyFailed {
			return run, true, nil
		}
	}
	return PayrollRun{}, false, nil
}

func (p *BatchPayrollProcessor) activeRunID(ctx context.Context, periodID PeriodID) RunID {
	runs, err := p.Store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return ""
	}
	for _, run := range runs {
		if run.Status == RunProcessing || run.Status == RunDraft {
			return run.ID
		}
	}
	return ""
}
