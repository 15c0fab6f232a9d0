// Package main implements a traffic demo that drives realistic lending,
// return, and renewal load against a circulation store with a configurable
// request rate.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine"
)

const (
	scenarioLend   = "lend"
	scenarioReturn = "return"
	scenarioRenew  = "renew"

	operationTimeout = 5 * time.Second
)

// TrafficDriver seeds a catalog and then issues loan operations against the
// store at the configured rate, tracking how many requests succeed, are
// rejected by a lending rule, or fail outright.
type TrafficDriver struct {
	store  postgresengine.CirculationStore
	config Config

	bookIDs   []uuid.UUID
	patronIDs []uuid.UUID

	openLoans []uuid.UUID
	loansMu   sync.Mutex

	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup

	requestCount int64
	rejectCount  int64
	errorCount   int64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewTrafficDriver creates a TrafficDriver for the given store and configuration.
func NewTrafficDriver(store postgresengine.CirculationStore, config Config) *TrafficDriver {
	return &TrafficDriver{
		store:    store,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Seed registers the initial catalog and patrons the scenarios draw from.
func (td *TrafficDriver) Seed(ctx context.Context) error {
	start := time.Now()

	for i := 0; i < td.config.InitialBooks; i++ {
		copies := 2 + rand.Intn(4) //nolint:gosec // Demo code - weak random is acceptable

		book, err := td.store.AddBook(ctx,
			fmt.Sprintf("Circulation Demo Vol. %d", i+1),
			"OpenShelf Demo",
			copies,
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("seeding book %d: %w", i+1, err)
		}

		td.bookIDs = append(td.bookIDs, book.ID)
	}

	for i := 0; i < td.config.InitialPatrons; i++ {
		patron, err := td.store.RegisterPatron(ctx,
			fmt.Sprintf("Demo Patron %d", i+1),
			"member",
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("seeding patron %d: %w", i+1, err)
		}

		td.patronIDs = append(td.patronIDs, patron.ID)
	}

	slog.Info("seeded demo data",
		"books", len(td.bookIDs),
		"patrons", len(td.patronIDs),
		"duration", time.Since(start).Truncate(time.Millisecond))

	return nil
}

// Start begins issuing scenarios at the configured request rate.
// It runs until the context is cancelled or Stop is called.
func (td *TrafficDriver) Start(ctx context.Context) error {
	td.mu.Lock()
	td.startTime = time.Now()
	td.requestCount = 0
	td.rejectCount = 0
	td.errorCount = 0
	td.mu.Unlock()

	interval := time.Second / time.Duration(td.config.Rate)
	td.ticker = time.NewTicker(interval)
	defer td.ticker.Stop()

	slog.Info("traffic driver starting",
		"rate", td.config.Rate,
		"interval", interval,
		"goroutines", runtime.NumGoroutine())

	td.wg.Add(1)
	go td.statsReporter(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("traffic driver stopping, context cancelled")
			return ctx.Err()

		case <-td.stopChan:
			slog.Info("traffic driver stopping, stop signal received")
			return nil

		case <-td.ticker.C:
			td.wg.Add(1)
			go td.executeScenario(ctx)
		}
	}
}

// Stop shuts the driver down and waits for in-flight scenarios to finish.
func (td *TrafficDriver) Stop(ctx context.Context) error {
	close(td.stopChan)

	done := make(chan struct{})
	go func() {
		td.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		td.logFinalStats()
		return nil
	case <-ctx.Done():
		td.logFinalStats()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (td *TrafficDriver) executeScenario(ctx context.Context) {
	defer td.wg.Done()

	scenario := td.selectScenario()

	var err error
	switch scenario {
	case scenarioLend:
		err = td.runLendScenario(ctx)
	case scenarioReturn:
		err = td.runReturnScenario(ctx)
	case scenarioRenew:
		err = td.runRenewScenario(ctx)
	default:
		err = fmt.Errorf("unknown scenario type: %s", scenario)
	}

	td.mu.Lock()
	td.requestCount++
	switch {
	case err == nil:
	case isExpectedRejection(err):
		td.rejectCount++
	default:
		td.errorCount++
		slog.Error("scenario failed", "scenario", scenario, "error", err)
	}
	td.mu.Unlock()
}

// selectScenario chooses a scenario based on the configured weights.
// Example: [60, 30, 10] means lend: 0-59, return: 60-89, renew: 90-99.
func (td *TrafficDriver) selectScenario() string {
	r := rand.Intn(100) //nolint:gosec // Demo code - weak random is acceptable

	if r < td.config.ScenarioWeights[0] {
		return scenarioLend
	}
	if r < td.config.ScenarioWeights[0]+td.config.ScenarioWeights[1] {
		return scenarioReturn
	}

	return scenarioRenew
}

func (td *TrafficDriver) runLendScenario(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	loan, err := td.store.CreateLoan(opCtx, td.randomBookID(), td.randomPatronID(), time.Now())
	if err != nil {
		return err
	}

	td.recordOpenLoan(loan.ID)

	return nil
}

func (td *TrafficDriver) runReturnScenario(ctx context.Context) error {
	loanID, ok := td.takeRandomOpenLoan()
	if !ok {
		// Nothing is lent out yet, lend instead so the driver stays busy.
		return td.runLendScenario(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := td.store.ReturnLoan(opCtx, loanID, time.Now())

	return err
}

func (td *TrafficDriver) runRenewScenario(ctx context.Context) error {
	loanID, ok := td.peekRandomOpenLoan()
	if !ok {
		return td.runLendScenario(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := td.store.RenewLoan(opCtx, loanID, time.Now())

	return err
}

func (td *TrafficDriver) randomBookID() uuid.UUID {
	return td.bookIDs[rand.Intn(len(td.bookIDs))] //nolint:gosec // Demo code - weak random is acceptable
}

func (td *TrafficDriver) randomPatronID() uuid.UUID {
	return td.patronIDs[rand.Intn(len(td.patronIDs))] //nolint:gosec // Demo code - weak random is acceptable
}

func (td *TrafficDriver) recordOpenLoan(loanID uuid.UUID) {
	td.loansMu.Lock()
	defer td.loansMu.Unlock()

	td.openLoans = append(td.openLoans, loanID)
}

// takeRandomOpenLoan removes and returns a random open loan ID, so two return
// scenarios never race on the same loan.
func (td *TrafficDriver) takeRandomOpenLoan() (uuid.UUID, bool) {
	td.loansMu.Lock()
	defer td.loansMu.Unlock()

	if len(td.openLoans) == 0 {
		return uuid.Nil, false
	}

	idx := rand.Intn(len(td.openLoans)) //nolint:gosec // Demo code - weak random is acceptable
	loanID := td.openLoans[idx]
	td.openLoans[idx] = td.openLoans[len(td.openLoans)-1]
	td.openLoans = td.openLoans[:len(td.openLoans)-1]

	return loanID, true
}

// peekRandomOpenLoan returns a random open loan ID without removing it, for
// scenarios that keep the loan open.
func (td *TrafficDriver) peekRandomOpenLoan() (uuid.UUID, bool) {
	td.loansMu.Lock()
	defer td.loansMu.Unlock()

	if len(td.openLoans) == 0 {
		return uuid.Nil, false
	}

	return td.openLoans[rand.Intn(len(td.openLoans))], true //nolint:gosec // Demo code - weak random is acceptable
}

// isExpectedRejection reports whether the error is a lending rule outcome or
// a concurrency conflict rather than a real failure. Under load both happen
// routinely: patrons hit their renewal limits, books run out of copies, and
// the overdue sweep marks loans while scenarios hold them.
func isExpectedRejection(err error) bool {
	expected := []error{
		circulation.ErrBookUnavailable,
		circulation.ErrInventoryExhausted,
		circulation.ErrPatronInactive,
		circulation.ErrPatronHasOverdueItems,
		circulation.ErrLoanNotActive,
		circulation.ErrRenewalLimitExceeded,
		circulation.ErrTransactionConflict,
	}

	for _, target := range expected {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// statsReporter logs throughput statistics periodically.
func (td *TrafficDriver) statsReporter(ctx context.Context) {
	defer td.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-td.stopChan:
			return
		case <-ticker.C:
			td.logCurrentStats()
		}
	}
}

func (td *TrafficDriver) logCurrentStats() {
	td.mu.RLock()
	duration := time.Since(td.startTime)
	requests := td.requestCount
	rejects := td.rejectCount
	errorTotal := td.errorCount
	td.mu.RUnlock()

	if duration <= 0 || requests == 0 {
		return
	}

	slog.Info("traffic stats",
		"requests", requests,
		"duration", duration.Truncate(time.Second),
		"rate", fmt.Sprintf("%.1f/s", float64(requests)/duration.Seconds()),
		"rejected", rejects,
		"errors", errorTotal,
		"goroutines", runtime.NumGoroutine())
}

func (td *TrafficDriver) logFinalStats() {
	td.mu.RLock()
	duration := time.Since(td.startTime)
	requests := td.requestCount
	rejects := td.rejectCount
	errorTotal := td.errorCount
	td.mu.RUnlock()

	if duration <= 0 || requests == 0 {
		return
	}

	slog.Info("final traffic stats",
		"requests", requests,
		"duration", duration.Truncate(time.Second),
		"rate", fmt.Sprintf("%.1f/s", float64(requests)/duration.Seconds()),
		"rejected", rejects,
		"errors", errorTotal,
		"goroutines", runtime.NumGoroutine())
}
