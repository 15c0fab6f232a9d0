package circulation

import (
	"errors"
	"time"
)

// Instead of implementing full value objects, I'm using some alias types and helper methods here ...

// BookIDString represents a book identifier in serialized form.
type BookIDString = string

// PatronIDString represents a patron identifier in serialized form.
type PatronIDString = string

// LoanIDString represents a loan identifier in serialized form.
type LoanIDString = string

// LoanDate represents a calendar date relevant to a loan (loaned on, due on, returned on).
type LoanDate = time.Time

// ToLoanDate converts a time to a LoanDate with UTC normalization and calendar-day precision.
//
// Due dates and fines are calendar-day based, so every timestamp entering
// the rules is truncated to midnight UTC first.
func ToLoanDate(t time.Time) LoanDate {
	return t.UTC().Truncate(24 * time.Hour)
}

// DaysBetween returns the whole days from one calendar date to another.
// The result is negative when `until` lies before `from`.
func DaysBetween(from time.Time, until time.Time) int {
	return int(ToLoanDate(until).Sub(ToLoanDate(from)).Hours() / 24)
}

// Precondition failures reported by the pure decision functions and surfaced
// unchanged by the storage engines. Callers are expected to branch on these
// with errors.Is.
var (
	// ErrBookNotFound is returned when no book exists for the given ID.
	ErrBookNotFound = errors.New("book not found")

	// ErrPatronNotFound is returned when no patron exists for the given ID.
	ErrPatronNotFound = errors.New("patron not found")

	// ErrLoanNotFound is returned when no loan exists for the given ID.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrBookUnavailable is returned when a checkout is attempted for a book
	// that is marked missing or has no available copies.
	ErrBookUnavailable = errors.New("book is not available for checkout")

	// ErrInventoryExhausted is returned when the available copy count would drop
	// below zero, typically because a concurrent checkout took the last copy.
	ErrInventoryExhausted = errors.New("no available copies left")

	// ErrPatronInactive is returned when the patron account is deactivated.
	ErrPatronInactive = errors.New("patron account is not active")

	// ErrPatronHasOverdueItems is returned when the patron holds at least one
	// overdue loan and may not check out further books until they are resolved.
	ErrPatronHasOverdueItems = errors.New("patron has overdue loans")

	// ErrLoanNotActive is returned when a return or renewal is attempted on a
	// loan that is already returned, or a renewal on an overdue loan.
	ErrLoanNotActive = errors.New("loan is not active")

	// ErrRenewalLimitExceeded is returned when a loan has used up its renewals.
	ErrRenewalLimitExceeded = errors.New("loan has reached its renewal limit")

	// ErrInvalidCopyCount is returned when a copy count adjustment would break
	// the inventory invariant 0 <= available <= total.
	ErrInvalidCopyCount = errors.New("invalid copy count")

	// ErrTransactionConflict is returned when a storage engine aborts an
	// operation because of a concurrent transaction. The records are unchanged
	// and the caller may retry the operation.
	ErrTransactionConflict = errors.New("transaction conflict, operation was not applied")
)

// Storage failures. The engines wrap the underlying driver error with
// errors.Join so callers can branch on the class and still inspect the cause.
var (
	// ErrNilDatabaseConnection is returned when a store factory receives a nil database handle.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTablePrefix is returned when an empty table prefix is supplied.
	ErrEmptyTablePrefix = errors.New("empty table prefix supplied")

	// ErrBuildingQueryFailed is returned when an SQL statement could not be built.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrQueryingRecordsFailed is returned when a database query fails.
	ErrQueryingRecordsFailed = errors.New("querying records failed")

	// ErrScanningDBRowFailed is returned when a database row cannot be scanned into a record.
	ErrScanningDBRowFailed = errors.New("scanning database row failed")

	// ErrExecutingStatementFailed is returned when a database write fails.
	ErrExecutingStatementFailed = errors.New("executing statement failed")

	// ErrGettingRowsAffectedFailed is returned when the affected row count cannot be read.
	ErrGettingRowsAffectedFailed = errors.New("getting rows affected count failed")

	// ErrBeginningTransactionFailed is returned when a transaction cannot be opened.
	ErrBeginningTransactionFailed = errors.New("beginning transaction failed")

	// ErrCommittingTransactionFailed is returned when a transaction cannot be committed.
	ErrCommittingTransactionFailed = errors.New("committing transaction failed")

	// ErrBuildingLoanEventFailed is returned when a loan event cannot be rebuilt from a database row.
	ErrBuildingLoanEventFailed = errors.New("building loan event from database row failed")
)
