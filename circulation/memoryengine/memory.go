package memoryengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/circulation-go/circulation"
)

// CirculationStore is an in-memory circulation store.
//
// One mutex serializes all writers, standing in for the row locks of the
// database engine. The decision logic is shared with the PostgreSQL engine
// through the circulation package, so both engines refuse and allow the
// same operations for the same reasons.
//
// The zero value is not usable; construct the store with NewCirculationStore.
type CirculationStore struct {
	mu         sync.RWMutex
	books      map[uuid.UUID]circulation.Book
	patrons    map[uuid.UUID]circulation.Patron
	loans      map[uuid.UUID]circulation.Loan
	loanEvents circulation.LoanEvents
	policy     circulation.Policy
}

// NewCirculationStore creates an empty in-memory circulation store.
func NewCirculationStore(options ...Option) (*CirculationStore, error) {
	store := &CirculationStore{
		books:   make(map[uuid.UUID]circulation.Book),
		patrons: make(map[uuid.UUID]circulation.Patron),
		loans:   make(map[uuid.UUID]circulation.Loan),
		policy:  circulation.DefaultPolicy(),
	}

	for _, option := range options {
		if err := option(store); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Policy returns the lending policy the store applies to loans.
func (ms *CirculationStore) Policy() circulation.Policy {
	return ms.policy
}

// AddBook registers a new catalog title with the given number of copies,
// all of them available.
func (ms *CirculationStore) AddBook(_ context.Context, title string, author string, totalCopies int, on time.Time) (circulation.Book, error) {
	book, buildErr := circulation.BuildBook(uuid.New(), title, author, totalCopies, on)
	if buildErr != nil {
		return circulation.Book{}, buildErr
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.books[book.ID] = book

	return book, nil
}

// AdjustBookCopies changes how many copies of a book the library owns,
// keeping the copies currently out on loan unchanged. Shrinking below the
// number of copies out is refused with ErrInvalidCopyCount.
func (ms *CirculationStore) AdjustBookCopies(_ context.Context, bookID uuid.UUID, totalCopies int, on time.Time) (circulation.Book, error) {
	return ms.transitionBook(bookID, func(book circulation.Book) (circulation.Book, error) {
		return book.WithTotalCopies(totalCopies, on)
	})
}

// MarkBookMissing sets the administrative missing override on a book.
// A missing book refuses checkouts but still accepts returns.
func (ms *CirculationStore) MarkBookMissing(_ context.Context, bookID uuid.UUID, on time.Time) (circulation.Book, error) {
	return ms.transitionBook(bookID, func(book circulation.Book) (circulation.Book, error) {
		return book.MarkMissing(on), nil
	})
}

// ClearBookMissing lifts the missing override and re-derives the book's
// status from its copy counts.
func (ms *CirculationStore) ClearBookMissing(_ context.Context, bookID uuid.UUID, on time.Time) (circulation.Book, error) {
	return ms.transitionBook(bookID, func(book circulation.Book) (circulation.Book, error) {
		return book.ClearMissing(on), nil
	})
}

// transitionBook looks a book up under the lock, applies the transition, and
// stores the result, all before anyone else can touch it.
func (ms *CirculationStore) transitionBook(bookID uuid.UUID, transition func(circulation.Book) (circulation.Book, error)) (circulation.Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	book, ok := ms.books[bookID]
	if !ok {
		return circulation.Book{}, circulation.ErrBookNotFound
	}

	changed, transitionErr := transition(book)
	if transitionErr != nil {
		return circulation.Book{}, transitionErr
	}

	ms.books[bookID] = changed

	return changed, nil
}

// GetBook reads one catalog entry.
func (ms *CirculationStore) GetBook(_ context.Context, bookID uuid.UUID) (circulation.Book, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	book, ok := ms.books[bookID]
	if !ok {
		return circulation.Book{}, circulation.ErrBookNotFound
	}

	return book, nil
}

// RegisterPatron adds a new library member, starting out active.
func (ms *CirculationStore) RegisterPatron(_ context.Context, name string, role string, on time.Time) (circulation.Patron, error) {
	patron := circulation.BuildPatron(uuid.New(), name, role, on)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.patrons[patron.ID] = patron

	return patron, nil
}

// SetPatronActive activates or deactivates a patron's borrowing privileges.
// An inactive patron cannot create loans but can still return and renew.
func (ms *CirculationStore) SetPatronActive(_ context.Context, patronID uuid.UUID, active bool, on time.Time) (circulation.Patron, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	patron, ok := ms.patrons[patronID]
	if !ok {
		return circulation.Patron{}, circulation.ErrPatronNotFound
	}

	changed := patron.WithActive(active, on)
	ms.patrons[patronID] = changed

	return changed, nil
}

// GetPatron reads one patron.
func (ms *CirculationStore) GetPatron(_ context.Context, patronID uuid.UUID) (circulation.Patron, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	patron, ok := ms.patrons[patronID]
	if !ok {
		return circulation.Patron{}, circulation.ErrPatronNotFound
	}

	return patron, nil
}

// CreateLoan checks a copy of the given book out to the given patron, with
// the loan period taken from the store's policy. The given time determines
// the loan date and with it the due date.
//
// The operation is atomic under the store mutex: the preconditions are
// checked against current state and nothing is written unless all of them
// hold. When two checkouts race for the last copy, the mutex serializes them
// and the loser is refused with ErrBookUnavailable.
func (ms *CirculationStore) CreateLoan(ctx context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time) (circulation.Loan, error) {
	return ms.createLoan(ctx, bookID, patronID, on, ms.policy)
}

// CreateLoanForPeriod is CreateLoan with an explicit loan period in days
// instead of the policy default.
func (ms *CirculationStore) CreateLoanForPeriod(ctx context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time, loanPeriodDays int) (circulation.Loan, error) {
	policy := ms.policy
	policy.LoanPeriodDays = loanPeriodDays

	if err := policy.Validate(); err != nil {
		return circulation.Loan{}, err
	}

	return ms.createLoan(ctx, bookID, patronID, on, policy)
}

func (ms *CirculationStore) createLoan(_ context.Context, bookID uuid.UUID, patronID uuid.UUID, on time.Time, policy circulation.Policy) (circulation.Loan, error) {
	var empty circulation.Loan

	ms.mu.Lock()
	defer ms.mu.Unlock()

	book, bookOk := ms.books[bookID]
	if !bookOk {
		return empty, circulation.ErrBookNotFound
	}

	patron, patronOk := ms.patrons[patronID]
	if !patronOk {
		return empty, circulation.ErrPatronNotFound
	}

	if err := patron.CanBorrow(ms.countOverdueLoansLocked(patronID, on)); err != nil {
		return empty, err
	}

	if err := book.CanLend(); err != nil {
		return empty, err
	}

	checkedOut, checkoutErr := book.Checkout(on)
	if checkoutErr != nil {
		return empty, checkoutErr
	}

	loan := circulation.BuildLoan(uuid.New(), bookID, patronID, on, policy)

	event, buildEventErr := circulation.BuildLoanCreatedEvent(loan, on)
	if buildEventErr != nil {
		return empty, buildEventErr
	}

	ms.books[bookID] = checkedOut
	ms.loans[loan.ID] = cloneLoan(loan)
	ms.loanEvents = append(ms.loanEvents, event)

	return loan, nil
}

// ReturnLoan completes the given loan as of the given time and puts the copy
// back on the shelf. A late return records the fine computed from the due
// date; the returned loan carries it in FineCents.
//
// Returning an already returned loan is refused with ErrLoanNotActive.
func (ms *CirculationStore) ReturnLoan(_ context.Context, loanID uuid.UUID, on time.Time) (circulation.Loan, error) {
	var empty circulation.Loan

	ms.mu.Lock()
	defer ms.mu.Unlock()

	loan, loanOk := ms.loans[loanID]
	if !loanOk {
		return empty, circulation.ErrLoanNotFound
	}

	returned, returnErr := loan.Return(on, ms.policy)
	if returnErr != nil {
		return empty, returnErr
	}

	book, bookOk := ms.books[loan.BookID]
	if !bookOk {
		return empty, circulation.ErrBookNotFound
	}

	checkedIn, checkInErr := book.CheckIn(on)
	if checkInErr != nil {
		return empty, checkInErr
	}

	event, buildEventErr := circulation.BuildLoanReturnedEvent(returned, on)
	if buildEventErr != nil {
		return empty, buildEventErr
	}

	ms.loans[loanID] = cloneLoan(returned)
	ms.books[book.ID] = checkedIn
	ms.loanEvents = append(ms.loanEvents, event)

	return returned, nil
}

// RenewLoan extends the given loan by the policy's renewal period, counted
// from the current due date. The given time decides whether the loan still
// counts as active; renewing an overdue or returned loan is refused with
// ErrLoanNotActive, and ErrRenewalLimitExceeded once the policy's renewal
// limit is used up.
func (ms *CirculationStore) RenewLoan(_ context.Context, loanID uuid.UUID, on time.Time) (circulation.Loan, error) {
	var empty circulation.Loan

	ms.mu.Lock()
	defer ms.mu.Unlock()

	loan, loanOk := ms.loans[loanID]
	if !loanOk {
		return empty, circulation.ErrLoanNotFound
	}

	renewed, renewErr := loan.Renew(on, ms.policy)
	if renewErr != nil {
		return empty, renewErr
	}

	event, buildEventErr := circulation.BuildLoanRenewedEvent(renewed, on)
	if buildEventErr != nil {
		return empty, buildEventErr
	}

	ms.loans[loanID] = cloneLoan(renewed)
	ms.loanEvents = append(ms.loanEvents, event)

	return renewed, nil
}

// GetLoan reads one loan as stored.
//
// The stored status can lag behind reality for a loan whose due date passed
// since the last overdue sweep; use Loan.StatusAsOf for the effective status.
func (ms *CirculationStore) GetLoan(_ context.Context, loanID uuid.UUID) (circulation.Loan, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	loan, ok := ms.loans[loanID]
	if !ok {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}

	return cloneLoan(loan), nil
}

// ListPatronLoans reads all loans of one patron, oldest first.
func (ms *CirculationStore) ListPatronLoans(_ context.Context, patronID uuid.UUID) (circulation.Loans, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var loans circulation.Loans

	for _, loan := range ms.loans {
		if loan.PatronID == patronID {
			loans = append(loans, cloneLoan(loan))
		}
	}

	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].LoanedOn.Equal(loans[j].LoanedOn) {
			return loans[i].LoanedOn.Before(loans[j].LoanedOn)
		}

		return loans[i].ID.String() < loans[j].ID.String()
	})

	return loans, nil
}

// SweepOverdue persists the overdue status for every active loan whose due
// date lies before the given day and appends one audit event per loan.
// It returns the number of loans marked.
//
// Marking changes only the stored status; returns, renewals and fines always
// work from the due date, whether or not a sweep ran.
func (ms *CirculationStore) SweepOverdue(_ context.Context, asOf time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	candidateIDs := make([]uuid.UUID, 0)

	for id, loan := range ms.loans {
		if loan.Status == circulation.LoanStatusActive && loan.IsOverdueAsOf(asOf) {
			candidateIDs = append(candidateIDs, id)
		}
	}

	// Map iteration order is random; the audit trail should not be.
	sort.Slice(candidateIDs, func(i, j int) bool {
		return candidateIDs[i].String() < candidateIDs[j].String()
	})

	marked := make(circulation.Loans, 0, len(candidateIDs))
	events := make(circulation.LoanEvents, 0, len(candidateIDs))

	for _, id := range candidateIDs {
		markedLoan, ok := ms.loans[id].MarkOverdue(asOf)
		if !ok {
			continue
		}

		event, buildEventErr := circulation.BuildLoanMarkedOverdueEvent(markedLoan, asOf)
		if buildEventErr != nil {
			return 0, buildEventErr
		}

		marked = append(marked, markedLoan)
		events = append(events, event)
	}

	for _, loan := range marked {
		ms.loans[loan.ID] = cloneLoan(loan)
	}

	ms.loanEvents = append(ms.loanEvents, events...)

	return len(marked), nil
}

// LoanHistory returns the audit trail of the given loan in the order the
// transitions were recorded.
func (ms *CirculationStore) LoanHistory(_ context.Context, loanID uuid.UUID) (circulation.LoanEvents, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var history circulation.LoanEvents

	for _, event := range ms.loanEvents {
		if event.LoanID == loanID {
			history = append(history, cloneLoanEvent(event))
		}
	}

	return history, nil
}

// cloneLoan copies a loan so the store and its callers never share the
// ReturnedOn date behind the pointer.
func cloneLoan(loan circulation.Loan) circulation.Loan {
	cp := loan

	if loan.ReturnedOn != nil {
		day := *loan.ReturnedOn
		cp.ReturnedOn = &day
	}

	return cp
}

// cloneLoanEvent copies a loan event including its payload bytes.
func cloneLoanEvent(event circulation.LoanEvent) circulation.LoanEvent {
	cp := event
	cp.PayloadJSON = append([]byte(nil), event.PayloadJSON...)

	return cp
}

// countOverdueLoansLocked counts the patron's loans that are overdue as of
// the given day, including active loans whose due date has silently passed.
// The caller must hold the mutex.
func (ms *CirculationStore) countOverdueLoansLocked(patronID uuid.UUID, asOf time.Time) int {
	overdueCount := 0

	for _, loan := range ms.loans {
		if loan.PatronID != patronID {
			continue
		}

		if loan.StatusAsOf(asOf) == circulation.LoanStatusOverdue {
			overdueCount++
		}
	}

	return overdueCount
}
