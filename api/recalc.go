/*
recalc.go - Background ledger horizon refresher

PURPOSE:
  Periodically walks every company with a configured contract and makes
  sure its ledger is consolidated through the current month. New months
  appear on the calendar without anyone hitting the API; this keeps the
  ledger warm so the first dashboard load of the month is not a cascade.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Companies are independent, so they refresh in parallel with a
    bounded errgroup
  - A company already mid-recalculation is skipped quietly; the next
    tick picks it up
  - A halted cascade (missing rate, unreachable timesheet source) is
    logged and left for the next tick; committed months stay committed

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Parallelism:   Max concurrent companies (default: 4)
  - Enabled:       Whether the refresher is active (default: true)

USAGE:
  refresher := NewHorizonRefresher(store, service)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: Recalculate endpoint (manual trigger)
  - bank/cascade.go: the cascade itself
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/hoursbank/bank"
)

// HorizonRefresher keeps every company's ledger consolidated through
// the current month.
type HorizonRefresher struct {
	Companies     bank.CompanyLister
	Service       *bank.Service
	CheckInterval time.Duration
	Parallelism   int
	Enabled       bool

	// Clock is overridable for tests. Defaults to time.Now.
	Clock func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHorizonRefresher creates a refresher with default settings.
func NewHorizonRefresher(companies bank.CompanyLister, service *bank.Service) *HorizonRefresher {
	return &HorizonRefresher{
		Companies:     companies,
		Service:       service,
		CheckInterval: 1 * time.Hour,
		Parallelism:   4,
		Enabled:       true,
		Clock:         time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the background refresh loop.
func (hr *HorizonRefresher) Start() {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if !hr.Enabled {
		log.Println("[Refresher] Disabled, not starting")
		return
	}

	hr.ticker = time.NewTicker(hr.CheckInterval)
	hr.wg.Add(1)

	go hr.run()

	log.Printf("[Refresher] Started with check interval: %v", hr.CheckInterval)
}

// Stop stops the refresher and waits for an in-flight pass to finish.
func (hr *HorizonRefresher) Stop() {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if hr.ticker != nil {
		hr.ticker.Stop()
		close(hr.stop)
		hr.wg.Wait()
		log.Println("[Refresher] Stopped")
	}
}

func (hr *HorizonRefresher) run() {
	defer hr.wg.Done()

	// Run immediately on start
	hr.refreshAll()

	for {
		select {
		case <-hr.ticker.C:
			hr.refreshAll()
		case <-hr.stop:
			return
		}
	}
}

func (hr *HorizonRefresher) refreshAll() {
	ctx := context.Background()
	current := currentMonth(hr.Clock)

	companies, err := hr.Companies.ListCompanyIDs(ctx)
	if err != nil {
		log.Printf("[Refresher] Error listing companies: %v", err)
		return
	}
	if len(companies) == 0 {
		return
	}

	var refreshed, skipped, failed int
	var counts sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hr.Parallelism)
	for _, companyID := range companies {
		companyID := companyID
		g.Go(func() error {
			_, err := hr.Service.GetOrCalculate(gctx, companyID, current)
			counts.Lock()
			defer counts.Unlock()
			switch {
			case err == nil:
				refreshed++
			case errors.Is(err, bank.ErrRecalculationInFlight):
				// Someone else is already on it.
				skipped++
			case errors.Is(err, bank.ErrContractNotConfigured):
				// Contract not effective yet for this month.
				skipped++
			default:
				failed++
				log.Printf("[Refresher] %s: %v", companyID, err)
			}
			// Errors are per-company; never cancel the siblings.
			return nil
		})
	}
	g.Wait()

	if refreshed > 0 || failed > 0 {
		log.Printf("[Refresher] Completed through %s: %d refreshed, %d skipped, %d failed",
			current, refreshed, skipped, failed)
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (hr *HorizonRefresher) RunNow() {
	hr.refreshAll()
}

func currentMonth(clock func() time.Time) bank.MonthKey {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return bank.NewMonthKey(now.Year(), now.Month())
}
