package pgtesthelpers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/testutil/postgresengine/helper/postgreswrapper"
)

const (
	fixturePatronName = "Fixture Patron"
	fixtureBookTitle  = "Fixture Book"
	fixtureBookAuthor = "Fixture Author"
)

// EnsureFixtureLoans tops the loans table up to at least minCount rows so the
// benchmarks measure against a populated store. The synthetic loans are all
// returned, so they never interfere with the copy counts or the overdue
// checks of the loans a benchmark creates on top of them.
func EnsureFixtureLoans(tb testing.TB, wrapper postgreswrapper.Wrapper, minCount int) {
	existing := CountLoansInDB(tb, wrapper)
	if existing >= minCount {
		return
	}

	missing := minCount - existing
	patronID := uuid.New()
	bookID := uuid.New()

	execOnWrapper(tb, wrapper, fmt.Sprintf(
		`INSERT INTO patrons (id, name, role, active, created_at, updated_at)
		 VALUES ('%s', '%s', 'member', TRUE, now(), now())`,
		patronID.String(), fixturePatronName))

	execOnWrapper(tb, wrapper, fmt.Sprintf(
		`INSERT INTO books (id, title, author, total_copies, available_copies, status, created_at, updated_at)
		 VALUES ('%s', '%s', '%s', %d, %d, 'available', now(), now())`,
		bookID.String(), fixtureBookTitle, fixtureBookAuthor, missing, missing))

	execOnWrapper(tb, wrapper, fmt.Sprintf(
		`INSERT INTO loans (id, book_id, patron_id, loaned_on, due_on, returned_on, renewals, status, fine_cents)
		 SELECT gen_random_uuid()::text, '%s', '%s',
		        now() - interval '30 days', now() - interval '16 days', now() - interval '20 days',
		        0, 'returned', 0
		 FROM generate_series(1, %d)`,
		bookID.String(), patronID.String(), missing))
}

// CountLoansInDB counts all rows in the loans table for the given wrapper.
func CountLoansInDB(tb testing.TB, wrapper postgreswrapper.Wrapper) int {
	return queryIntOnWrapper(tb, wrapper, `SELECT count(*) FROM loans`)
}

// GetBusiestPatronIDFromDB returns the patron holding the most loans, so the
// list benchmarks run against a history worth measuring.
func GetBusiestPatronIDFromDB(tb testing.TB, wrapper postgreswrapper.Wrapper) uuid.UUID {
	idString := queryStringOnWrapper(tb, wrapper,
		`SELECT patron_id FROM loans GROUP BY patron_id ORDER BY count(*) DESC LIMIT 1`)

	patronID, parseErr := uuid.Parse(idString)
	assert.NoError(tb, parseErr, "error parsing the patron id from the loans table")

	return patronID
}

// CleanUpLoanTraces removes one loan and its audit rows, so a benchmark
// iteration leaves the dataset size unchanged. It returns how many loan rows
// were deleted.
func CleanUpLoanTraces(ctx context.Context, wrapper postgreswrapper.Wrapper, loanID uuid.UUID) (int64, error) {
	if err := execSQL(ctx, wrapper, fmt.Sprintf(
		`DELETE FROM loan_events WHERE loan_id = '%s'`, loanID.String())); err != nil {
		return 0, err
	}

	return execSQLWithRowsAffected(ctx, wrapper, fmt.Sprintf(
		`DELETE FROM loans WHERE id = '%s'`, loanID.String()))
}

func execOnWrapper(tb testing.TB, wrapper postgreswrapper.Wrapper, statement string) {
	err := execSQL(context.Background(), wrapper, statement)
	assert.NoError(tb, err, "error arranging fixture data")
}

func execSQL(ctx context.Context, wrapper postgreswrapper.Wrapper, statement string) error {
	_, err := execSQLWithRowsAffected(ctx, wrapper, statement)

	return err
}

func execSQLWithRowsAffected(ctx context.Context, wrapper postgreswrapper.Wrapper, statement string) (int64, error) {
	switch w := wrapper.(type) {
	case *postgreswrapper.PGXPoolWrapper:
		tag, execErr := w.Pool().Exec(ctx, statement)
		if execErr != nil {
			return 0, execErr
		}

		return tag.RowsAffected(), nil

	case *postgreswrapper.SQLDBWrapper:
		return rowsAffectedFromResult(w.DB().ExecContext(ctx, statement))

	case *postgreswrapper.SQLXWrapper:
		return rowsAffectedFromResult(w.DB().ExecContext(ctx, statement))

	case *postgreswrapper.ReplicaPGXWrapper:
		tag, execErr := w.Primary().Exec(ctx, statement)
		if execErr != nil {
			return 0, execErr
		}

		return tag.RowsAffected(), nil

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}
}

func rowsAffectedFromResult(result sql.Result, execErr error) (int64, error) {
	if execErr != nil {
		return 0, execErr
	}

	return result.RowsAffected()
}

func queryIntOnWrapper(tb testing.TB, wrapper postgreswrapper.Wrapper, query string) int {
	var value int

	scanRowOnWrapper(tb, wrapper, query, &value)

	return value
}

func queryStringOnWrapper(tb testing.TB, wrapper postgreswrapper.Wrapper, query string) string {
	var value string

	scanRowOnWrapper(tb, wrapper, query, &value)

	return value
}

func scanRowOnWrapper(tb testing.TB, wrapper postgreswrapper.Wrapper, query string, target any) {
	var err error

	switch w := wrapper.(type) {
	case *postgreswrapper.PGXPoolWrapper:
		err = w.Pool().QueryRow(context.Background(), query).Scan(target)

	case *postgreswrapper.SQLDBWrapper:
		err = w.DB().QueryRow(query).Scan(target)

	case *postgreswrapper.SQLXWrapper:
		err = w.DB().QueryRow(query).Scan(target)

	case *postgreswrapper.ReplicaPGXWrapper:
		err = w.Primary().QueryRow(context.Background(), query).Scan(target)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	assert.NoError(tb, err, "error reading fixture data")
}
