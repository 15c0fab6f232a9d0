// Package circulation provides the core types and rules for library
// circulation: books with copy counts, patron accounts, and loans with
// due dates, renewals, and late fines.
//
// All lifecycle rules are implemented as pure functions over value types.
// Storage engines (see the postgresengine and memoryengine subpackages)
// load the current records, apply these rules inside their own atomicity
// boundary, and persist the outcome. This package itself never touches
// a database.
//
// Key types:
//   - Book: a catalog title with total and available copy counts
//   - Patron: a borrower account with an active flag
//   - Loan: one lending of one book copy, with due date, renewal count and fine
//   - Policy: loan period, renewal limit, and the daily fine rate
//
// Common usage pattern:
//
//	policy := circulation.DefaultPolicy()
//	loan := circulation.BuildLoan(loanID, bookID, patronID, today, policy)
//
//	renewed, err := loan.Renew(today, policy)
//	if err != nil {
//		// handle ErrRenewalLimitExceeded, ErrLoanNotActive, ...
//	}
//
// All date handling is calendar-day based: times are normalized with
// ToLoanDate before any rule looks at them, so time of day and time zone
// never influence due dates or fines.
package circulation
