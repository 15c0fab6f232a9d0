package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine/internal/adapters"
)

// CreateLoan checks a copy of the given book out to the given patron, with
// the loan period taken from the store's policy. The given time determines
// the loan date and with it the due date.
//
// The whole operation runs in one database transaction: the book row and the
// patron row are locked, the preconditions are checked against current state,
// and the loan insert, the inventory decrement and the audit entry commit
// together or not at all. When two checkouts race for the last copy, the row
// lock serializes them and the loser is refused with ErrBookUnavailable.
func (cs CirculationStore) CreateLoan(ctx context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time) (circulation.Loan, error) {
	return cs.createLoan(ctx, bookID, patronID, on, cs.policy)
}

// CreateLoanForPeriod is CreateLoan with an explicit loan period in days
// instead of the policy default.
func (cs CirculationStore) CreateLoanForPeriod(ctx context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time, loanPeriodDays int) (circulation.Loan, error) {
	policy := cs.policy
	policy.LoanPeriodDays = loanPeriodDays

	if err := policy.Validate(); err != nil {
		return circulation.Loan{}, err
	}

	return cs.createLoan(ctx, bookID, patronID, on, policy)
}

func (cs CirculationStore) createLoan(ctx context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time, policy circulation.Policy) (circulation.Loan, error) {
	var empty circulation.Loan

	observer, ctx := cs.startOperation(ctx, operationCreateLoan, map[string]string{
		spanAttrBookID:   bookID.String(),
		spanAttrPatronID: patronID.String(),
	})

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return empty, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	// Lock order is book first, then patron, on every code path that locks
	// both. Loans are locked before books on the return path, and the loan
	// being created does not exist yet, so no cycle can form.
	book, fetchBookErr := cs.fetchBook(ctx, tx, bookID, true, operationCreateLoan)
	if fetchBookErr != nil {
		return empty, observer.fail(fetchBookErr)
	}

	patron, fetchPatronErr := cs.fetchPatron(ctx, tx, patronID, true, operationCreateLoan)
	if fetchPatronErr != nil {
		return empty, observer.fail(fetchPatronErr)
	}

	overdueCount, countErr := cs.countOverdueLoans(ctx, tx, patronID, on)
	if countErr != nil {
		return empty, observer.fail(countErr)
	}

	if err := patron.CanBorrow(overdueCount); err != nil {
		return empty, observer.fail(err)
	}

	if err := book.CanLend(); err != nil {
		return empty, observer.fail(err)
	}

	checkedOut, checkoutErr := book.Checkout(on)
	if checkoutErr != nil {
		return empty, observer.fail(checkoutErr)
	}

	loan := circulation.BuildLoan(uuid.New(), bookID, patronID, on, policy)

	if err := cs.insertLoan(ctx, tx, loan); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.updateBook(ctx, tx, checkedOut, operationCreateLoan); err != nil {
		return empty, observer.fail(err)
	}

	event, buildEventErr := circulation.BuildLoanCreatedEvent(loan, on)
	if buildEventErr != nil {
		return empty, observer.fail(buildEventErr)
	}

	if err := cs.appendLoanEvent(ctx, tx, event); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return empty, observer.fail(err)
	}

	cs.logOperation(ctx, logMsgLoanCreated,
		logAttrLoanID, loan.ID.String(),
		logAttrBookID, bookID.String(),
		logAttrPatronID, patronID.String(),
		logAttrDueOn, loan.DueOn.Format(time.DateOnly),
	)
	observer.succeed(map[string]string{
		spanAttrLoanID: loan.ID.String(),
		spanAttrDueOn:  loan.DueOn.Format(time.DateOnly),
	})

	return loan, nil
}

// ReturnLoan completes the given loan as of the given time and puts the copy
// back on the shelf. A late return records the fine computed from the due
// date; the returned loan carries it in FineCents.
//
// The loan row and then the book row are locked, and the loan update, the
// inventory increment and the audit entry commit together or not at all.
// Returning an already returned loan is refused with ErrLoanNotActive.
func (cs CirculationStore) ReturnLoan(ctx context.Context, loanID uuid.UUID, on time.Time) (circulation.Loan, error) {
	var empty circulation.Loan

	observer, ctx := cs.startOperation(ctx, operationReturnLoan, map[string]string{
		spanAttrLoanID: loanID.String(),
	})

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return empty, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	loan, fetchLoanErr := cs.fetchLoan(ctx, tx, loanID, true, operationReturnLoan)
	if fetchLoanErr != nil {
		return empty, observer.fail(fetchLoanErr)
	}

	returned, returnErr := loan.Return(on, cs.policy)
	if returnErr != nil {
		return empty, observer.fail(returnErr)
	}

	book, fetchBookErr := cs.fetchBook(ctx, tx, loan.BookID, true, operationReturnLoan)
	if fetchBookErr != nil {
		return empty, observer.fail(fetchBookErr)
	}

	checkedIn, checkInErr := book.CheckIn(on)
	if checkInErr != nil {
		return empty, observer.fail(checkInErr)
	}

	if err := cs.updateLoanOnReturn(ctx, tx, returned); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.updateBook(ctx, tx, checkedIn, operationReturnLoan); err != nil {
		return empty, observer.fail(err)
	}

	event, buildEventErr := circulation.BuildLoanReturnedEvent(returned, on)
	if buildEventErr != nil {
		return empty, observer.fail(buildEventErr)
	}

	if err := cs.appendLoanEvent(ctx, tx, event); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return empty, observer.fail(err)
	}

	if returned.FineCents > 0 {
		cs.recordFineAssessed(ctx, returned.FineCents)
	}

	cs.logOperation(ctx, logMsgLoanReturned,
		logAttrLoanID, returned.ID.String(),
		logAttrBookID, returned.BookID.String(),
		logAttrFine, returned.FineAmount(),
	)
	observer.succeed(map[string]string{
		spanAttrFineCents: circulation.FormatCents(returned.FineCents),
	})

	return returned, nil
}

// RenewLoan extends the given loan by the policy's renewal period, counted
// from the current due date. The given time decides whether the loan still
// counts as active; renewing an overdue or returned loan is refused with
// ErrLoanNotActive, and ErrRenewalLimitExceeded once the policy's renewal
// limit is used up.
func (cs CirculationStore) RenewLoan(ctx context.Context, loanID uuid.UUID, on time.Time) (circulation.Loan, error) {
	var empty circulation.Loan

	observer, ctx := cs.startOperation(ctx, operationRenewLoan, map[string]string{
		spanAttrLoanID: loanID.String(),
	})

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return empty, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	loan, fetchLoanErr := cs.fetchLoan(ctx, tx, loanID, true, operationRenewLoan)
	if fetchLoanErr != nil {
		return empty, observer.fail(fetchLoanErr)
	}

	renewed, renewErr := loan.Renew(on, cs.policy)
	if renewErr != nil {
		return empty, observer.fail(renewErr)
	}

	if err := cs.updateLoanOnRenew(ctx, tx, renewed); err != nil {
		return empty, observer.fail(err)
	}

	event, buildEventErr := circulation.BuildLoanRenewedEvent(renewed, on)
	if buildEventErr != nil {
		return empty, observer.fail(buildEventErr)
	}

	if err := cs.appendLoanEvent(ctx, tx, event); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return empty, observer.fail(err)
	}

	cs.logOperation(ctx, logMsgLoanRenewed,
		logAttrLoanID, renewed.ID.String(),
		logAttrRenewals, renewed.Renewals,
		logAttrDueOn, renewed.DueOn.Format(time.DateOnly),
	)
	observer.succeed(map[string]string{
		spanAttrDueOn: renewed.DueOn.Format(time.DateOnly),
	})

	return renewed, nil
}

// === Query building and row writing for the loan lifecycle ===

// countOverdueLoans counts the patron's loans that are overdue as of the
// given day, including active loans whose due date has silently passed.
func (cs CirculationStore) countOverdueLoans(ctx context.Context, tx adapters.DBTx, patronID uuid.UUID, asOf time.Time) (int, error) {
	sqlQuery, buildQueryErr := cs.buildCountOverdueLoansQuery(patronID, asOf)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return 0, buildQueryErr
	}

	rows, _, queryErr := cs.executeQuery(ctx, tx, sqlQuery, operationCreateLoan)
	if queryErr != nil {
		return 0, queryErr
	}
	defer cs.closeRows(ctx, rows)

	var overdueCount int

	if rows.Next() {
		if rowScanErr := rows.Scan(&overdueCount); rowScanErr != nil {
			cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

			return 0, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
		}
	}

	return overdueCount, nil
}

func (cs CirculationStore) buildCountOverdueLoansQuery(patronID uuid.UUID, asOf time.Time) (sqlQueryString, error) {
	today := circulation.ToLoanDate(asOf)

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.table(tableLoans)).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colPatronID).Eq(patronID.String()),
			goqu.Or(
				goqu.C(colStatus).Eq(string(circulation.LoanStatusOverdue)),
				goqu.And(
					goqu.C(colStatus).Eq(string(circulation.LoanStatusActive)),
					goqu.C(colDueOn).Lt(today),
				),
			),
		)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// insertLoan writes a freshly created loan.
func (cs CirculationStore) insertLoan(ctx context.Context, tx adapters.DBTx, loan circulation.Loan) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.table(tableLoans)).
		Rows(goqu.Record{
			colID:         loan.ID.String(),
			colBookID:     loan.BookID.String(),
			colPatronID:   loan.PatronID.String(),
			colLoanedOn:   loan.LoanedOn,
			colDueOn:      loan.DueOn,
			colReturnedOn: nil,
			colRenewals:   loan.Renewals,
			colStatus:     string(loan.Status),
			colFineCents:  loan.FineCents,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		buildErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildInsertQueryFailed, buildErr)

		return buildErr
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, operationCreateLoan)
	if execErr != nil {
		return execErr
	}

	return cs.validateAffectedRows(ctx, rowsAffected, 1)
}

// updateBook writes back a book's copy counts and status after a transition,
// expecting to hit exactly the locked row.
func (cs CirculationStore) updateBook(ctx context.Context, tx adapters.DBTx, book circulation.Book, action string) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.table(tableBooks)).
		Set(goqu.Record{
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
			colStatus:          string(book.Status),
			colUpdatedAt:       book.UpdatedAt,
		}).
		Where(goqu.C(colID).Eq(book.ID.String()))

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		buildErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildUpdateQueryFailed, buildErr)

		return buildErr
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, action)
	if execErr != nil {
		return execErr
	}

	return cs.validateAffectedRows(ctx, rowsAffected, 1)
}

// updateLoanOnReturn writes back a returned loan, guarding against the loan
// having been completed by someone else in the meantime.
func (cs CirculationStore) updateLoanOnReturn(ctx context.Context, tx adapters.DBTx, loan circulation.Loan) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.table(tableLoans)).
		Set(goqu.Record{
			colReturnedOn: *loan.ReturnedOn,
			colStatus:     string(loan.Status),
			colFineCents:  loan.FineCents,
		}).
		Where(
			goqu.C(colID).Eq(loan.ID.String()),
			goqu.C(colStatus).Neq(string(circulation.LoanStatusReturned)),
		)

	return cs.executeGuardedLoanUpdate(ctx, tx, updateStmt, operationReturnLoan)
}

// updateLoanOnRenew writes back a renewed loan's new due date and renewal count.
func (cs CirculationStore) updateLoanOnRenew(ctx context.Context, tx adapters.DBTx, loan circulation.Loan) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.table(tableLoans)).
		Set(goqu.Record{
			colDueOn:    loan.DueOn,
			colRenewals: loan.Renewals,
		}).
		Where(
			goqu.C(colID).Eq(loan.ID.String()),
			goqu.C(colStatus).Neq(string(circulation.LoanStatusReturned)),
		)

	return cs.executeGuardedLoanUpdate(ctx, tx, updateStmt, operationRenewLoan)
}

func (cs CirculationStore) executeGuardedLoanUpdate(ctx context.Context, tx adapters.DBTx, updateStmt *goqu.UpdateDataset, action string) error {
	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		buildErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildUpdateQueryFailed, buildErr)

		return buildErr
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, action)
	if execErr != nil {
		return execErr
	}

	return cs.validateAffectedRows(ctx, rowsAffected, 1)
}
