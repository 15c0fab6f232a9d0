package postgresengine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine/internal/adapters"
)

const defaultSweepInterval = time.Hour

// SweepOverdue persists the overdue status for every active loan whose due
// date lies before the given day and appends one audit event per loan.
// It returns the number of loans marked.
//
// The candidate rows are locked before marking, so a sweep that races a
// return or renewal waits for it and then skips the loans it no longer
// applies to. Marking changes only the stored status; returns, renewals and
// fines always work from the due date, whether or not a sweep ran.
func (cs CirculationStore) SweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	observer, ctx := cs.startOperation(ctx, operationSweepOverdue, nil)

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return 0, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	candidates, fetchErr := cs.fetchOverdueCandidates(ctx, tx, asOf)
	if fetchErr != nil {
		return 0, observer.fail(fetchErr)
	}

	marked := make(circulation.Loans, 0, len(candidates))
	events := make(circulation.LoanEvents, 0, len(candidates))

	for _, loan := range candidates {
		markedLoan, ok := loan.MarkOverdue(asOf)
		if !ok {
			continue
		}

		event, buildEventErr := circulation.BuildLoanMarkedOverdueEvent(markedLoan, asOf)
		if buildEventErr != nil {
			return 0, observer.fail(buildEventErr)
		}

		marked = append(marked, markedLoan)
		events = append(events, event)
	}

	if len(marked) == 0 {
		if err := cs.commitTx(ctx, tx); err != nil {
			return 0, observer.fail(err)
		}

		observer.succeed(map[string]string{spanAttrMarked: "0"})

		return 0, nil
	}

	if err := cs.markLoansOverdue(ctx, tx, marked); err != nil {
		return 0, observer.fail(err)
	}

	if err := cs.appendLoanEvents(ctx, tx, events); err != nil {
		return 0, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return 0, observer.fail(err)
	}

	cs.recordLoansMarkedOverdue(ctx, len(marked))
	cs.logOperation(ctx, logMsgSweepCompleted, logAttrMarkedCount, len(marked))
	observer.succeed(map[string]string{spanAttrMarked: strconv.Itoa(len(marked))})

	return len(marked), nil
}

// fetchOverdueCandidates locks and returns the active loans whose due date
// lies before the given day, in id order so concurrent sweeps acquire their
// locks in the same order.
func (cs CirculationStore) fetchOverdueCandidates(ctx context.Context, tx adapters.DBTx, asOf time.Time) (circulation.Loans, error) {
	today := circulation.ToLoanDate(asOf)

	selectStmt := cs.loanSelectColumns().
		Where(
			goqu.C(colStatus).Eq(string(circulation.LoanStatusActive)),
			goqu.C(colDueOn).Lt(today),
		).
		Order(goqu.I(colID).Asc()).
		ForUpdate(exp.Wait)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return nil, buildQueryErr
	}

	rows, _, queryErr := cs.executeQuery(ctx, tx, sqlQuery, operationSweepOverdue)
	if queryErr != nil {
		return nil, queryErr
	}
	defer cs.closeRows(ctx, rows)

	var candidates circulation.Loans

	for rows.Next() {
		loan, scanErr := cs.scanLoanRow(ctx, rows)
		if scanErr != nil {
			return nil, scanErr
		}

		candidates = append(candidates, loan)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		cs.logError(ctx, logMsgDBQueryFailed, rowsErr)

		return nil, errors.Join(circulation.ErrQueryingRecordsFailed, rowsErr)
	}

	return candidates, nil
}

// markLoansOverdue flips the locked candidate rows to overdue in one update.
func (cs CirculationStore) markLoansOverdue(ctx context.Context, tx adapters.DBTx, marked circulation.Loans) error {
	loanIDs := make([]string, 0, len(marked))
	for _, loan := range marked {
		loanIDs = append(loanIDs, loan.ID.String())
	}

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.table(tableLoans)).
		Set(goqu.Record{colStatus: string(circulation.LoanStatusOverdue)}).
		Where(
			goqu.C(colID).In(loanIDs),
			goqu.C(colStatus).Eq(string(circulation.LoanStatusActive)),
		)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildUpdateQueryFailed, buildQueryErr)

		return buildQueryErr
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, operationSweepOverdue)
	if execErr != nil {
		return execErr
	}

	return cs.validateAffectedRows(ctx, rowsAffected, len(marked))
}

// OverdueMonitor periodically runs SweepOverdue, so the stored status of
// loans catches up with their due dates without any reader having to care.
type OverdueMonitor struct {
	store    CirculationStore
	interval time.Duration
}

// NewOverdueMonitor creates a monitor sweeping at the given interval.
// A non-positive interval falls back to hourly.
func NewOverdueMonitor(store CirculationStore, interval time.Duration) *OverdueMonitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &OverdueMonitor{store: store, interval: interval}
}

// Run sweeps once immediately and then on every tick until the context is
// canceled. Sweep failures are logged and the next tick tries again.
func (om *OverdueMonitor) Run(ctx context.Context) {
	om.sweep(ctx)

	ticker := time.NewTicker(om.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			om.sweep(ctx)
		}
	}
}

func (om *OverdueMonitor) sweep(ctx context.Context) {
	if _, err := om.store.SweepOverdue(ctx, time.Now()); err != nil {
		om.store.logWarn(ctx, logMsgSweepFailed, logAttrError, err.Error())
	}
}
