package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Loans is an alias type for a slice of Loan.
type Loans = []Loan

// LoanStatus represents the lifecycle state of a loan.
type LoanStatus string

const (
	// LoanStatusActive means the copy is out and the due date has not passed.
	LoanStatusActive LoanStatus = "active"

	// LoanStatusOverdue means the copy is out past its due date.
	LoanStatusOverdue LoanStatus = "overdue"

	// LoanStatusReturned is the terminal state; the copy is back on the shelf.
	LoanStatusReturned LoanStatus = "returned"
)

// Loan represents one lending of one book copy to one patron.
//
// All dates are calendar dates (midnight UTC, see ToLoanDate). FineCents is
// zero until the loan is returned late; it is never charged on a loan that
// is still out.
type Loan struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	PatronID   uuid.UUID
	LoanedOn   LoanDate
	DueOn      LoanDate
	ReturnedOn *LoanDate
	Renewals   int
	Status     LoanStatus
	FineCents  int64
}

// BuildLoan creates a new active loan starting on the given date, due after
// the policy's loan period.
func BuildLoan(id uuid.UUID, bookID uuid.UUID, patronID uuid.UUID, loanedOn time.Time, policy Policy) Loan {
	start := ToLoanDate(loanedOn)

	loan := Loan{
		ID:       id,
		BookID:   bookID,
		PatronID: patronID,
		LoanedOn: start,
		DueOn:    start.AddDate(0, 0, policy.LoanPeriodDays),
		Renewals: 0,
		Status:   LoanStatusActive,
	}

	return loan
}

// DeriveLoanStatus returns the effective status of a loan as of the given day.
//
// A stored active status becomes overdue once the due date lies in the past.
// Returned and overdue are sticky: a loan only leaves overdue by being
// returned, and returned is terminal.
func DeriveLoanStatus(stored LoanStatus, dueOn time.Time, today time.Time) LoanStatus {
	if stored != LoanStatusActive {
		return stored
	}

	if ToLoanDate(dueOn).Before(ToLoanDate(today)) {
		return LoanStatusOverdue
	}

	return LoanStatusActive
}

// StatusAsOf returns the loan's effective status as of the given day,
// applying DeriveLoanStatus to the stored status.
func (l Loan) StatusAsOf(today time.Time) LoanStatus {
	return DeriveLoanStatus(l.Status, l.DueOn, today)
}

// IsOverdueAsOf reports whether the loan counts as overdue on the given day.
func (l Loan) IsOverdueAsOf(today time.Time) bool {
	return l.StatusAsOf(today) == LoanStatusOverdue
}

// DaysLate returns how many whole days past the due date the given return
// day lies, never less than zero.
func (l Loan) DaysLate(returnedOn time.Time) int {
	daysLate := DaysBetween(l.DueOn, returnedOn)
	if daysLate < 0 {
		return 0
	}

	return daysLate
}

// LateFineCents returns the fine for returning this loan on the given day:
// days late times the policy's daily rate, zero for an on-time return.
func (l Loan) LateFineCents(returnedOn time.Time, policy Policy) int64 {
	return int64(l.DaysLate(returnedOn)) * policy.DailyFineCents
}

// Return completes the loan on the given day.
//
// Works on active and overdue loans alike; a late return records the fine
// computed from the due date. Returns ErrLoanNotActive if the loan was
// already returned. Returning twice never succeeds, so fines cannot be
// charged twice.
func (l Loan) Return(returnedOn time.Time, policy Policy) (Loan, error) {
	if l.Status == LoanStatusReturned {
		return Loan{}, ErrLoanNotActive
	}

	day := ToLoanDate(returnedOn)

	l.ReturnedOn = &day
	l.FineCents = l.LateFineCents(day, policy)
	l.Status = LoanStatusReturned

	return l, nil
}

// Renew extends the loan by the policy's renewal period, counted from the
// current due date.
//
// Renewal is refused with ErrLoanNotActive when the loan is returned or
// effectively overdue as of today; an overdue loan has to be returned and
// its fine settled, not extended. Returns ErrRenewalLimitExceeded once the
// policy's renewal limit is used up.
func (l Loan) Renew(today time.Time, policy Policy) (Loan, error) {
	if l.StatusAsOf(today) != LoanStatusActive {
		return Loan{}, ErrLoanNotActive
	}

	if l.Renewals >= policy.MaxRenewals {
		return Loan{}, ErrRenewalLimitExceeded
	}

	l.Renewals++
	l.DueOn = l.DueOn.AddDate(0, 0, policy.RenewalPeriodDays)

	return l, nil
}

// MarkOverdue returns the loan with the overdue status persisted.
//
// Only an effectively overdue loan can be marked, so a sweep that races a
// return or renewal does not clobber their outcome. Returns false when the
// loan is not overdue as of today or the status is already stored.
func (l Loan) MarkOverdue(today time.Time) (Loan, bool) {
	if l.Status != LoanStatusActive {
		return l, false
	}

	if !l.IsOverdueAsOf(today) {
		return l, false
	}

	l.Status = LoanStatusOverdue

	return l, true
}

// FineAmount renders the recorded fine as a decimal string, e.g. "2.50".
func (l Loan) FineAmount() string {
	return FormatCents(l.FineCents)
}
