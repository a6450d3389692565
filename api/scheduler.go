/*
scheduler.go - Automated pay-period maintenance

PURPOSE:
  Periodically maintains the pay-period calendar so batch runs always have
  a period to target:
  - Opens scheduled periods whose start date has arrived
  - Extends each frequency's schedule when its horizon runs short

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Idempotent: re-running a check is always safe (already-open periods
    are skipped, overlap-rejected periods are not re-saved)
  - Never touches run state; closing a period belongs to the processor

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - HorizonDays:   Extend a frequency when its last period ends within
                   this many days (default: 30)
  - ExtendCount:   How many periods to generate per extension (default: 6)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewMaintenanceScheduler(store, periods)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - payroll/schedule.go: Period generation rules
  - handlers.go: GeneratePeriods endpoint (manual generation)
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

// MaintenanceScheduler keeps the pay-period calendar current.
type MaintenanceScheduler struct {
	Store         *sqlite.Store
	Periods       *payroll.PayPeriodScheduler
	CheckInterval time.Duration
	HorizonDays   int
	ExtendCount   int
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMaintenanceScheduler creates a new scheduler.
func NewMaintenanceScheduler(store *sqlite.Store, periods *payroll.PayPeriodScheduler) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		Store:         store,
		Periods:       periods,
		CheckInterval: 1 * time.Hour,
		HorizonDays:   30,
		ExtendCount:   6,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ms *MaintenanceScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.wg.Add(1)

	go ms.run()

	log.Printf("[Scheduler] Started with check interval: %v", ms.CheckInterval)
}

// Stop stops the scheduler.
func (ms *MaintenanceScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker != nil {
		ms.ticker.Stop()
		close(ms.stop)
		ms.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ms *MaintenanceScheduler) run() {
	defer ms.wg.Done()

	// Run immediately on start
	ms.checkAndMaintain()

	for {
		select {
		case <-ms.ticker.C:
			ms.checkAndMaintain()
		case <-ms.stop:
			return
		}
	}
}

func (ms *MaintenanceScheduler) checkAndMaintain() {
	ctx := context.Background()
	today := payroll.Today()

	periods, err := ms.Store.ListPayPeriods(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing periods: %v", err)
		return
	}

	opened := ms.openDuePeriods(ctx, periods, today)
	extended := ms.extendHorizons(ctx, periods, today)

	if opened > 0 || extended > 0 {
		log.Printf("[Scheduler] Completed: %d periods opened, %d generated", opened, extended)
	}
}

// openDuePeriods transitions scheduled periods to open once their start
// date has arrived.
func (ms *MaintenanceScheduler) openDuePeriods(ctx context.Context, periods []payroll.PayPeriod, today payroll.Date) int {
	opened := 0
	for _, p := range periods {
		if p.Status != payroll.PeriodScheduled || !p.Start.BeforeOrEqual(today) {
			continue
		}
		if err := ms.Store.UpdatePayPeriodStatus(ctx, p.ID, payroll.PeriodOpen); err != nil {
			log.Printf("[Scheduler] Error opening period %s: %v", p.ID, err)
			continue
		}
		opened++
	}
	return opened
}

// extendHorizons generates further periods for any frequency whose last
// period ends within HorizonDays of today.
func (ms *MaintenanceScheduler) extendHorizons(ctx context.Context, periods []payroll.PayPeriod, today payroll.Date) int {
	lastEnd := make(map[payroll.PayFrequency]payroll.Date)
	for _, p := range periods {
		if end, ok := lastEnd[p.Frequency]; !ok || p.End.After(end) {
			lastEnd[p.Frequency] = p.End
		}
	}

	horizon := today.AddDays(ms.HorizonDays)
	generated := 0

	for frequency, end := range lastEnd {
		if end.After(horizon) {
			continue
		}

		next, err := ms.Periods.Generate(frequency, end.AddDays(1), ms.ExtendCount)
		if err != nil {
			log.Printf("[Scheduler] Error generating %s periods: %v", frequency, err)
			continue
		}
		for _, p := range next {
			if err := ms.Store.SavePayPeriod(ctx, p); err != nil {
				if errors.Is(err, payroll.ErrPeriodOverlap) {
					continue
				}
				log.Printf("[Scheduler] Error saving period %s: %v", p.ID, err)
				continue
			}
			generated++
		}
	}
	return generated
}

// RunNow triggers an immediate check (for testing/admin).
func (ms *MaintenanceScheduler) RunNow() {
	ms.checkAndMaintain()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ms *MaintenanceScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ms.CheckInterval)
}
