package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine/internal/adapters"
)

const (
	tableBooks      = "books"
	tablePatrons    = "patrons"
	tableLoans      = "loans"
	tableLoanEvents = "loan_events"

	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgBuildUpdateQueryFailed = "failed to build update query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgDBExecFailed           = "database execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgBuildLoanEventFailed   = "failed to build loan event from database row"
	logMsgBeginTxFailed          = "failed to begin transaction"
	logMsgCommitTxFailed         = "failed to commit transaction"
	logMsgRollbackTxFailed       = "failed to roll back transaction"
	logMsgRowsAffectedFailed     = "failed to get rows affected count"
	logMsgTransactionConflict    = "transaction conflict detected"
	logMsgOperationRejected      = "operation rejected"
	logMsgLoanCreated            = "loan created"
	logMsgLoanReturned           = "loan returned"
	logMsgLoanRenewed            = "loan renewed"
	logMsgSweepCompleted         = "overdue sweep completed"
	logMsgSweepFailed            = "overdue sweep failed"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "circulation operation: "

	logAttrError        = "error"
	logAttrQuery        = "query"
	logAttrOperation    = "operation"
	logAttrReason       = "reason"
	logAttrBookID       = "book_id"
	logAttrPatronID     = "patron_id"
	logAttrLoanID       = "loan_id"
	logAttrDueOn        = "due_on"
	logAttrFine         = "fine"
	logAttrRenewals     = "renewals"
	logAttrMarkedCount  = "marked_count"
	logAttrDurationMS   = "duration_ms"
	logAttrRowsAffected = "rows_affected"
	logAttrExpectedRows = "expected_rows"

	colID              = "id"
	colTitle           = "title"
	colAuthor          = "author"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colStatus          = "status"
	colCreatedAt       = "created_at"
	colUpdatedAt       = "updated_at"
	colName            = "name"
	colRole            = "role"
	colActive          = "active"
	colBookID          = "book_id"
	colPatronID        = "patron_id"
	colLoanedOn        = "loaned_on"
	colDueOn           = "due_on"
	colReturnedOn      = "returned_on"
	colRenewals        = "renewals"
	colFineCents       = "fine_cents"
	colEventType       = "event_type"
	colOccurredAt      = "occurred_at"
	colPayload         = "payload"
	colLoanID          = "loan_id"
	colSequenceNumber  = "sequence_number"

	dialectPostgres = "postgres"

	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
	pgCodeLockNotAvailable     = "55P03"
)

type (
	sqlQueryString    = string
	rowsAffectedInt64 = int64
	queryDuration     = time.Duration
)

// dbQueryer is the read surface shared by the adapter and its transactions.
type dbQueryer interface {
	Query(ctx context.Context, query string) (adapters.DBRows, error)
}

// dbExecutor is the write surface shared by the adapter and its transactions.
type dbExecutor interface {
	Exec(ctx context.Context, query string) (adapters.DBResult, error)
}

// CirculationStore is a storage mechanism for circulation records: books with
// copy counts, patrons, loans, and the loan audit trail.
// It leverages a database adapter and supports customizable logging, metrics,
// tracing, lending policy, and table naming.
//
// Every state-changing operation runs in one database transaction with the
// affected rows locked, so the inventory invariants hold under concurrent use.
type CirculationStore struct {
	db               adapters.DBAdapter
	tablePrefix      string
	policy           circulation.Policy
	logger           circulation.Logger
	contextualLogger circulation.ContextualLogger
	metricsCollector circulation.MetricsCollector
	tracingCollector circulation.TracingCollector
}

// NewCirculationStoreFromPGXPool creates a new CirculationStore using a pgx Pool with optional configuration.
func NewCirculationStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewPGXAdapter(db), options...)
}

// NewCirculationStoreFromPGXPoolWithReplica creates a new CirculationStore using a primary
// pgx Pool for all writes and a replica pool for reads that tolerate eventual consistency.
func NewCirculationStoreFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (CirculationStore, error) {
	if db == nil || replica == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewCirculationStoreFromSQLDB creates a new CirculationStore using a sql.DB with optional configuration.
func NewCirculationStoreFromSQLDB(db *sql.DB, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewSQLAdapter(db), options...)
}

// NewCirculationStoreFromSQLX creates a new CirculationStore using a sqlx.DB with optional configuration.
func NewCirculationStoreFromSQLX(db *sqlx.DB, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewSQLXAdapter(db), options...)
}

func newCirculationStore(db adapters.DBAdapter, options ...Option) (CirculationStore, error) {
	cs := CirculationStore{
		db:     db,
		policy: circulation.DefaultPolicy(),
	}

	for _, option := range options {
		if err := option(&cs); err != nil {
			return CirculationStore{}, err
		}
	}

	return cs, nil
}

// Policy returns the lending policy this store applies.
func (cs CirculationStore) Policy() circulation.Policy {
	return cs.policy
}

// table returns the prefixed name of one of the store's tables.
func (cs CirculationStore) table(name string) string {
	return cs.tablePrefix + name
}

// beginTx opens a transaction on the primary database.
func (cs CirculationStore) beginTx(ctx context.Context) (adapters.DBTx, error) {
	tx, beginErr := cs.db.Begin(ctx)
	if beginErr != nil {
		cs.logError(ctx, logMsgBeginTxFailed, beginErr)

		return nil, errors.Join(circulation.ErrBeginningTransactionFailed, beginErr)
	}

	return tx, nil
}

// rollbackTx rolls a transaction back, staying quiet when it was already
// committed or rolled back. Meant to be deferred.
func (cs CirculationStore) rollbackTx(ctx context.Context, tx adapters.DBTx) {
	rollbackErr := tx.Rollback(ctx)
	if rollbackErr == nil || errors.Is(rollbackErr, sql.ErrTxDone) || errors.Is(rollbackErr, pgx.ErrTxClosed) {
		return
	}

	cs.logWarn(ctx, logMsgRollbackTxFailed, logAttrError, rollbackErr.Error())
}

// commitTx commits a transaction, classifying conflicts that Postgres only
// reports at commit time.
func (cs CirculationStore) commitTx(ctx context.Context, tx adapters.DBTx) error {
	commitErr := tx.Commit(ctx)
	if commitErr != nil {
		cs.logError(ctx, logMsgCommitTxFailed, commitErr)

		if isTransactionConflict(commitErr) {
			return errors.Join(circulation.ErrTransactionConflict, commitErr)
		}

		return errors.Join(circulation.ErrCommittingTransactionFailed, commitErr)
	}

	return nil
}

// executeQuery executes an SQL query and returns rows with timing information.
func (cs CirculationStore) executeQuery(ctx context.Context, db dbQueryer, sqlQuery string, action string) (
	adapters.DBRows,
	queryDuration,
	error,
) {

	start := time.Now()
	rows, queryErr := db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	cs.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		cs.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		if isTransactionConflict(queryErr) {
			return nil, duration, errors.Join(circulation.ErrTransactionConflict, queryErr)
		}

		return nil, duration, errors.Join(circulation.ErrQueryingRecordsFailed, queryErr)
	}

	return rows, duration, nil
}

// executeStatement executes an SQL write and returns rows affected with timing information.
func (cs CirculationStore) executeStatement(ctx context.Context, db dbExecutor, sqlQuery string, action string) (
	rowsAffectedInt64,
	queryDuration,
	error,
) {

	start := time.Now()
	result, execErr := cs.runStatement(ctx, db, sqlQuery)
	duration := time.Since(start)
	cs.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if execErr != nil {
		return 0, duration, execErr
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		cs.logError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr)

		return 0, duration, errors.Join(circulation.ErrGettingRowsAffectedFailed, rowsAffectedErr)
	}

	return rowsAffected, duration, nil
}

func (cs CirculationStore) runStatement(ctx context.Context, db dbExecutor, sqlQuery string) (adapters.DBResult, error) {
	result, execErr := db.Exec(ctx, sqlQuery)
	if execErr != nil {
		cs.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)

		if isTransactionConflict(execErr) {
			return nil, errors.Join(circulation.ErrTransactionConflict, execErr)
		}

		return nil, errors.Join(circulation.ErrExecutingStatementFailed, execErr)
	}

	return result, nil
}

// validateAffectedRows checks that a guarded write changed exactly the rows
// the transaction read before, and reports a conflict otherwise.
func (cs CirculationStore) validateAffectedRows(ctx context.Context, rowsAffected rowsAffectedInt64, expectedRows int) error {
	if rowsAffected < int64(expectedRows) {
		cs.logOperation(ctx,
			logMsgTransactionConflict,
			logAttrExpectedRows, expectedRows,
			logAttrRowsAffected, rowsAffected,
		)

		return circulation.ErrTransactionConflict
	}

	return nil
}

// closeRows safely closes database rows and logs any errors.
func (cs CirculationStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		cs.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// isTransactionConflict reports whether the driver error is a serialization
// failure, deadlock, or lock timeout, for any of the supported drivers.
func isTransactionConflict(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		switch pgxErr.Code {
		case pgCodeSerializationFailure, pgCodeDeadlockDetected, pgCodeLockNotAvailable:
			return true
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgCodeSerializationFailure, pgCodeDeadlockDetected, pgCodeLockNotAvailable:
			return true
		}
	}

	return false
}

// === Record fetching ===

type bookRow struct {
	id              string
	title           string
	author          string
	totalCopies     int
	availableCopies int
	status          string
	createdAt       time.Time
	updatedAt       time.Time
}

type patronRow struct {
	id        string
	name      string
	role      string
	active    bool
	createdAt time.Time
	updatedAt time.Time
}

type loanRow struct {
	id         string
	bookID     string
	patronID   string
	loanedOn   time.Time
	dueOn      time.Time
	returnedOn sql.NullTime
	renewals   int
	status     string
	fineCents  int64
}

func (cs CirculationStore) buildSelectBookQuery(bookID uuid.UUID, forUpdate bool) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.table(tableBooks)).
		Select(colID, colTitle, colAuthor, colTotalCopies, colAvailableCopies, colStatus, colCreatedAt, colUpdatedAt).
		Where(goqu.Ex{colID: bookID.String()})

	if forUpdate {
		selectStmt = selectStmt.ForUpdate(exp.Wait)
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (cs CirculationStore) buildSelectPatronQuery(patronID uuid.UUID, forUpdate bool) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.table(tablePatrons)).
		Select(colID, colName, colRole, colActive, colCreatedAt, colUpdatedAt).
		Where(goqu.Ex{colID: patronID.String()})

	if forUpdate {
		selectStmt = selectStmt.ForUpdate(exp.Wait)
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (cs CirculationStore) buildSelectLoanQuery(loanID uuid.UUID, forUpdate bool) (sqlQueryString, error) {
	selectStmt := cs.loanSelectColumns().
		Where(goqu.Ex{colID: loanID.String()})

	if forUpdate {
		selectStmt = selectStmt.ForUpdate(exp.Wait)
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (cs CirculationStore) loanSelectColumns() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(cs.table(tableLoans)).
		Select(colID, colBookID, colPatronID, colLoanedOn, colDueOn, colReturnedOn, colRenewals, colStatus, colFineCents)
}

// fetchBook reads one book row, locking it when forUpdate is set.
func (cs CirculationStore) fetchBook(ctx context.Context, db dbQueryer, bookID uuid.UUID, forUpdate bool, action string) (circulation.Book, error) {
	var empty circulation.Book

	sqlQuery, buildQueryErr := cs.buildSelectBookQuery(bookID, forUpdate)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return empty, buildQueryErr
	}

	rows, _, queryErr := cs.executeQuery(ctx, db, sqlQuery, action)
	if queryErr != nil {
		return empty, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return empty, circulation.ErrBookNotFound
	}

	return cs.scanBookRow(ctx, rows)
}

func (cs CirculationStore) scanBookRow(ctx context.Context, rows adapters.DBRows) (circulation.Book, error) {
	var empty circulation.Book
	row := bookRow{}

	rowScanErr := rows.Scan(
		&row.id, &row.title, &row.author,
		&row.totalCopies, &row.availableCopies, &row.status,
		&row.createdAt, &row.updatedAt,
	)
	if rowScanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
	}

	id, parseErr := uuid.Parse(row.id)
	if parseErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, parseErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, parseErr)
	}

	book := circulation.Book{
		ID:              id,
		Title:           row.title,
		Author:          row.author,
		TotalCopies:     row.totalCopies,
		AvailableCopies: row.availableCopies,
		Status:          circulation.BookStatus(row.status),
		CreatedAt:       row.createdAt.UTC(),
		UpdatedAt:       row.updatedAt.UTC(),
	}

	return book, nil
}

// fetchPatron reads one patron row, locking it when forUpdate is set.
func (cs CirculationStore) fetchPatron(ctx context.Context, db dbQueryer, patronID uuid.UUID, forUpdate bool, action string) (circulation.Patron, error) {
	var empty circulation.Patron

	sqlQuery, buildQueryErr := cs.buildSelectPatronQuery(patronID, forUpdate)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return empty, buildQueryErr
	}

	rows, _, queryErr := cs.executeQuery(ctx, db, sqlQuery, action)
	if queryErr != nil {
		return empty, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return empty, circulation.ErrPatronNotFound
	}

	return cs.scanPatronRow(ctx, rows)
}

func (cs CirculationStore) scanPatronRow(ctx context.Context, rows adapters.DBRows) (circulation.Patron, error) {
	var empty circulation.Patron
	row := patronRow{}

	rowScanErr := rows.Scan(&row.id, &row.name, &row.role, &row.active, &row.createdAt, &row.updatedAt)
	if rowScanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
	}

	id, parseErr := uuid.Parse(row.id)
	if parseErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, parseErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, parseErr)
	}

	patron := circulation.Patron{
		ID:        id,
		Name:      row.name,
		Role:      row.role,
		Active:    row.active,
		CreatedAt: row.createdAt.UTC(),
		UpdatedAt: row.updatedAt.UTC(),
	}

	return patron, nil
}

// fetchLoan reads one loan row, locking it when forUpdate is set.
func (cs CirculationStore) fetchLoan(ctx context.Context, db dbQueryer, loanID uuid.UUID, forUpdate bool, action string) (circulation.Loan, error) {
	var empty circulation.Loan

	sqlQuery, buildQueryErr := cs.buildSelectLoanQuery(loanID, forUpdate)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return empty, buildQueryErr
	}

	rows, _, queryErr := cs.executeQuery(ctx, db, sqlQuery, action)
	if queryErr != nil {
		return empty, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return empty, circulation.ErrLoanNotFound
	}

	return cs.scanLoanRow(ctx, rows)
}

func (cs CirculationStore) scanLoanRow(ctx context.Context, rows adapters.DBRows) (circulation.Loan, error) {
	var empty circulation.Loan
	row := loanRow{}

	rowScanErr := rows.Scan(
		&row.id, &row.bookID, &row.patronID,
		&row.loanedOn, &row.dueOn, &row.returnedOn,
		&row.renewals, &row.status, &row.fineCents,
	)
	if rowScanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
	}

	id, idErr := uuid.Parse(row.id)
	bookID, bookIDErr := uuid.Parse(row.bookID)
	patronID, patronIDErr := uuid.Parse(row.patronID)

	if parseErr := errors.Join(idErr, bookIDErr, patronIDErr); parseErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, parseErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, parseErr)
	}

	loan := circulation.Loan{
		ID:        id,
		BookID:    bookID,
		PatronID:  patronID,
		LoanedOn:  circulation.ToLoanDate(row.loanedOn),
		DueOn:     circulation.ToLoanDate(row.dueOn),
		Renewals:  row.renewals,
		Status:    circulation.LoanStatus(row.status),
		FineCents: row.fineCents,
	}

	if row.returnedOn.Valid {
		returnedOn := circulation.ToLoanDate(row.returnedOn.Time)
		loan.ReturnedOn = &returnedOn
	}

	return loan, nil
}
