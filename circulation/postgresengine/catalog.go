package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/openshelf/circulation-go/circulation"
)

// AddBook registers a new catalog title with the given number of copies,
// all of them available.
func (cs CirculationStore) AddBook(ctx context.Context, title string, author string, totalCopies int, on time.Time) (circulation.Book, error) {
	var empty circulation.Book

	observer, ctx := cs.startOperation(ctx, operationAddBook, nil)

	book, buildErr := circulation.BuildBook(uuid.New(), title, author, totalCopies, on)
	if buildErr != nil {
		return empty, observer.fail(buildErr)
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.table(tableBooks)).
		Rows(goqu.Record{
			colID:              book.ID.String(),
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
			colStatus:          string(book.Status),
			colCreatedAt:       book.CreatedAt,
			colUpdatedAt:       book.UpdatedAt,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildInsertQueryFailed, buildQueryErr)

		return empty, observer.fail(buildQueryErr)
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, cs.db, sqlQuery, operationAddBook)
	if execErr != nil {
		return empty, observer.fail(execErr)
	}

	if err := cs.validateAffectedRows(ctx, rowsAffected, 1); err != nil {
		return empty, observer.fail(err)
	}

	observer.succeed(map[string]string{spanAttrBookID: book.ID.String()})

	return book, nil
}

// AdjustBookCopies changes how many copies of a book the library owns,
// keeping the copies currently out on loan unchanged. Shrinking below the
// number of copies out is refused with ErrInvalidCopyCount.
func (cs CirculationStore) AdjustBookCopies(ctx context.Context, bookID uuid.UUID, totalCopies int, on time.Time) (circulation.Book, error) {
	return cs.transitionBook(ctx, operationAdjustBookCopies, bookID,
		func(book circulation.Book) (circulation.Book, error) {
			return book.WithTotalCopies(totalCopies, on)
		})
}

// MarkBookMissing sets the administrative missing override on a book.
// A missing book refuses checkouts but still accepts returns.
func (cs CirculationStore) MarkBookMissing(ctx context.Context, bookID uuid.UUID, on time.Time) (circulation.Book, error) {
	return cs.transitionBook(ctx, operationMarkBookMissing, bookID,
		func(book circulation.Book) (circulation.Book, error) {
			return book.MarkMissing(on), nil
		})
}

// ClearBookMissing lifts the missing override and re-derives the book's
// status from its copy counts.
func (cs CirculationStore) ClearBookMissing(ctx context.Context, bookID uuid.UUID, on time.Time) (circulation.Book, error) {
	return cs.transitionBook(ctx, operationClearBookMissing, bookID,
		func(book circulation.Book) (circulation.Book, error) {
			return book.ClearMissing(on), nil
		})
}

// transitionBook loads a book under lock, applies the transition, and writes
// the result back in one transaction.
func (cs CirculationStore) transitionBook(ctx context.Context, operation string, bookID uuid.UUID, transition func(circulation.Book) (circulation.Book, error)) (circulation.Book, error) {
	var empty circulation.Book

	observer, ctx := cs.startOperation(ctx, operation, map[string]string{
		spanAttrBookID: bookID.String(),
	})

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return empty, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	book, fetchErr := cs.fetchBook(ctx, tx, bookID, true, operation)
	if fetchErr != nil {
		return empty, observer.fail(fetchErr)
	}

	changed, transitionErr := transition(book)
	if transitionErr != nil {
		return empty, observer.fail(transitionErr)
	}

	if err := cs.updateBook(ctx, tx, changed, operation); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return empty, observer.fail(err)
	}

	observer.succeed(nil)

	return changed, nil
}

// GetBook reads one catalog entry.
//
// The read honors the consistency level carried in the context; see
// circulation.WithEventualConsistency.
func (cs CirculationStore) GetBook(ctx context.Context, bookID uuid.UUID) (circulation.Book, error) {
	observer, ctx := cs.startOperation(ctx, operationGetBook, map[string]string{
		spanAttrBookID: bookID.String(),
	})

	book, fetchErr := cs.fetchBook(ctx, cs.db, bookID, false, operationGetBook)
	if fetchErr != nil {
		return circulation.Book{}, observer.fail(fetchErr)
	}

	observer.succeed(nil)

	return book, nil
}

// RegisterPatron adds a new library member, starting out active.
func (cs CirculationStore) RegisterPatron(ctx context.Context, name string, role string, on time.Time) (circulation.Patron, error) {
	var empty circulation.Patron

	observer, ctx := cs.startOperation(ctx, operationRegisterPatron, nil)

	patron := circulation.BuildPatron(uuid.New(), name, role, on)

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.table(tablePatrons)).
		Rows(goqu.Record{
			colID:        patron.ID.String(),
			colName:      patron.Name,
			colRole:      patron.Role,
			colActive:    patron.Active,
			colCreatedAt: patron.CreatedAt,
			colUpdatedAt: patron.UpdatedAt,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildInsertQueryFailed, buildQueryErr)

		return empty, observer.fail(buildQueryErr)
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, cs.db, sqlQuery, operationRegisterPatron)
	if execErr != nil {
		return empty, observer.fail(execErr)
	}

	if err := cs.validateAffectedRows(ctx, rowsAffected, 1); err != nil {
		return empty, observer.fail(err)
	}

	observer.succeed(map[string]string{spanAttrPatronID: patron.ID.String()})

	return patron, nil
}

// SetPatronActive activates or deactivates a patron's borrowing privileges.
// An inactive patron cannot create loans but can still return and renew.
func (cs CirculationStore) SetPatronActive(ctx context.Context, patronID uuid.UUID, active bool, on time.Time) (circulation.Patron, error) {
	var empty circulation.Patron

	observer, ctx := cs.startOperation(ctx, operationSetPatronActive, map[string]string{
		spanAttrPatronID: patronID.String(),
	})

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return empty, observer.fail(beginErr)
	}
	defer cs.rollbackTx(ctx, tx)

	patron, fetchErr := cs.fetchPatron(ctx, tx, patronID, true, operationSetPatronActive)
	if fetchErr != nil {
		return empty, observer.fail(fetchErr)
	}

	changed := patron.WithActive(active, on)

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.table(tablePatrons)).
		Set(goqu.Record{
			colActive:    changed.Active,
			colUpdatedAt: changed.UpdatedAt,
		}).
		Where(goqu.C(colID).Eq(changed.ID.String()))

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildUpdateQueryFailed, buildQueryErr)

		return empty, observer.fail(buildQueryErr)
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, operationSetPatronActive)
	if execErr != nil {
		return empty, observer.fail(execErr)
	}

	if err := cs.validateAffectedRows(ctx, rowsAffected, 1); err != nil {
		return empty, observer.fail(err)
	}

	if err := cs.commitTx(ctx, tx); err != nil {
		return empty, observer.fail(err)
	}

	observer.succeed(nil)

	return changed, nil
}

// GetPatron reads one patron.
func (cs CirculationStore) GetPatron(ctx context.Context, patronID uuid.UUID) (circulation.Patron, error) {
	observer, ctx := cs.startOperation(ctx, operationGetPatron, map[string]string{
		spanAttrPatronID: patronID.String(),
	})

	patron, fetchErr := cs.fetchPatron(ctx, cs.db, patronID, false, operationGetPatron)
	if fetchErr != nil {
		return circulation.Patron{}, observer.fail(fetchErr)
	}

	observer.succeed(nil)

	return patron, nil
}

// GetLoan reads one loan as stored.
//
// The stored status can lag behind reality for a loan whose due date passed
// since the last overdue sweep; use Loan.StatusAsOf for the effective status.
func (cs CirculationStore) GetLoan(ctx context.Context, loanID uuid.UUID) (circulation.Loan, error) {
	observer, ctx := cs.startOperation(ctx, operationGetLoan, map[string]string{
		spanAttrLoanID: loanID.String(),
	})

	loan, fetchErr := cs.fetchLoan(ctx, cs.db, loanID, false, operationGetLoan)
	if fetchErr != nil {
		return circulation.Loan{}, observer.fail(fetchErr)
	}

	observer.succeed(nil)

	return loan, nil
}

// ListPatronLoans reads all loans of one patron, oldest first.
func (cs CirculationStore) ListPatronLoans(ctx context.Context, patronID uuid.UUID) (circulation.Loans, error) {
	observer, ctx := cs.startOperation(ctx, operationListPatronLoans, map[string]string{
		spanAttrPatronID: patronID.String(),
	})

	selectStmt := cs.loanSelectColumns().
		Where(goqu.Ex{colPatronID: patronID.String()}).
		Order(goqu.I(colLoanedOn).Asc(), goqu.I(colID).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		buildQueryErr := errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return nil, observer.fail(buildQueryErr)
	}

	rows, _, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery, operationListPatronLoans)
	if queryErr != nil {
		return nil, observer.fail(queryErr)
	}
	defer cs.closeRows(ctx, rows)

	var loans circulation.Loans

	for rows.Next() {
		loan, scanErr := cs.scanLoanRow(ctx, rows)
		if scanErr != nil {
			return nil, observer.fail(scanErr)
		}

		loans = append(loans, loan)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		cs.logError(ctx, logMsgDBQueryFailed, rowsErr)

		return nil, observer.fail(errors.Join(circulation.ErrQueryingRecordsFailed, rowsErr))
	}

	observer.succeed(nil)

	return loans, nil
}
