package helper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine"
)

// GivenUniqueID generates a unique UUID for testing.
func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id
}

// Day builds a calendar day for test dates.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// GivenBookInCatalog adds a book with the given number of copies for testing.
func GivenBookInCatalog(
	t testing.TB,
	ctx context.Context, //nolint:revive
	cs postgresengine.CirculationStore,
	totalCopies int,
	on time.Time,
) circulation.Book {

	book, err := cs.AddBook(ctx, "Learning Domain-Driven Design", "Vlad Khononov", totalCopies, on)
	assert.NoError(t, err, "error in arranging test data")

	return book
}

// GivenRegisteredPatron registers an active patron for testing.
func GivenRegisteredPatron(
	t testing.TB,
	ctx context.Context, //nolint:revive
	cs postgresengine.CirculationStore,
	on time.Time,
) circulation.Patron {

	patron, err := cs.RegisterPatron(ctx, "Ada Lovelace", "member", on)
	assert.NoError(t, err, "error in arranging test data")

	return patron
}

// GivenDeactivatedPatron registers a patron and deactivates them for testing.
func GivenDeactivatedPatron(
	t testing.TB,
	ctx context.Context, //nolint:revive
	cs postgresengine.CirculationStore,
	on time.Time,
) circulation.Patron {

	patron := GivenRegisteredPatron(t, ctx, cs, on)

	deactivated, err := cs.SetPatronActive(ctx, patron.ID, false, on)
	assert.NoError(t, err, "error in arranging test data")

	return deactivated
}

// GivenActiveLoan creates a loan for testing. With the default policy a loan
// created on day X is due on day X+14, so a loan date far enough in the past
// arranges an overdue loan.
func GivenActiveLoan(
	t testing.TB,
	ctx context.Context, //nolint:revive
	cs postgresengine.CirculationStore,
	bookID uuid.UUID,
	patronID uuid.UUID,
	on time.Time,
) circulation.Loan {

	loan, err := cs.CreateLoan(ctx, bookID, patronID, on)
	assert.NoError(t, err, "error in arranging test data")

	return loan
}

// GivenReturnedLoan creates a loan and returns it on the given day for testing.
func GivenReturnedLoan(
	t testing.TB,
	ctx context.Context, //nolint:revive
	cs postgresengine.CirculationStore,
	bookID uuid.UUID,
	patronID uuid.UUID,
	loanedOn time.Time,
	returnedOn time.Time,
) circulation.Loan {

	loan := GivenActiveLoan(t, ctx, cs, bookID, patronID, loanedOn)

	returned, err := cs.ReturnLoan(ctx, loan.ID, returnedOn)
	assert.NoError(t, err, "error in arranging test data")

	return returned
}
