package postgresengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/openshelf/circulation-go/circulation"                                    //nolint:revive
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper"                 //nolint:revive
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper/postgreswrapper" //nolint:revive
)

func Test_AddBook_PutsAllCopiesOnTheShelf(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	catalogDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)

	// act
	book, err := cs.AddBook(ctxWithTimeout, "Implementing Domain-Driven Design", "Vaughn Vernon", 4, catalogDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, "Implementing Domain-Driven Design", book.Title)
	assert.Equal(t, "Vaughn Vernon", book.Author)
	assert.Equal(t, 4, book.TotalCopies)
	assert.Equal(t, 4, book.AvailableCopies)
	assert.Equal(t, BookStatusAvailable, book.Status)

	fetched, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, book.ID, fetched.ID)
	assert.Equal(t, book.Title, fetched.Title)
	assert.Equal(t, 4, fetched.AvailableCopies)
}

func Test_AddBook_When_CopyCountIsNegative(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.AddBook(ctxWithTimeout, "Implementing Domain-Driven Design", "Vaughn Vernon", -1, Day(2024, time.January, 2))

	// assert
	assert.ErrorContains(t, err, ErrInvalidCopyCount.Error())
}

func Test_AddBook_WithZeroCopies_CannotBeLent(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	catalogDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book, addErr := cs.AddBook(ctxWithTimeout, "Implementing Domain-Driven Design", "Vaughn Vernon", 0, catalogDay)
	assert.NoError(t, addErr, "error in arranging test data")
	assert.Equal(t, BookStatusCheckedOut, book.Status, "error in arranging test data")
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, catalogDay)

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, catalogDay)

	// assert
	assert.ErrorContains(t, err, ErrBookUnavailable.Error())
}

func Test_AdjustBookCopies_GrowsTheInventory(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	catalogDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, catalogDay)

	// act
	adjusted, err := cs.AdjustBookCopies(ctxWithTimeout, book.ID, 3, catalogDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 3, adjusted.TotalCopies)
	assert.Equal(t, 3, adjusted.AvailableCopies)
	assert.Equal(t, BookStatusAvailable, adjusted.Status)
}

func Test_AdjustBookCopies_KeepsTheCopiesOut(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 2, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	// act
	adjusted, err := cs.AdjustBookCopies(ctxWithTimeout, book.ID, 5, loanDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 5, adjusted.TotalCopies)
	assert.Equal(t, 4, adjusted.AvailableCopies, "one copy stays out on loan")
}

func Test_AdjustBookCopies_When_ItWouldStrandALoan(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 2, loanDay)
	firstPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	secondPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, firstPatron.ID, loanDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, secondPatron.ID, loanDay)

	// act
	_, err := cs.AdjustBookCopies(ctxWithTimeout, book.ID, 1, loanDay)

	// assert
	assert.ErrorContains(t, err, ErrInvalidCopyCount.Error())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.TotalCopies)
	assert.Equal(t, 0, bookAfter.AvailableCopies)
}

func Test_MarkBookMissing_BlocksNewLoans(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 2, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	missing, markErr := cs.MarkBookMissing(ctxWithTimeout, book.ID, loanDay)
	assert.NoError(t, markErr, "error in arranging test data")
	assert.Equal(t, BookStatusMissing, missing.Status, "error in arranging test data")

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.ErrorContains(t, err, ErrBookUnavailable.Error())
}

func Test_MarkBookMissing_StillAcceptsReturns(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)
	returnDay := Day(2024, time.January, 9)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	_, markErr := cs.MarkBookMissing(ctxWithTimeout, book.ID, loanDay)
	assert.NoError(t, markErr, "error in arranging test data")

	// act
	returned, err := cs.ReturnLoan(ctxWithTimeout, loan.ID, returnDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanStatusReturned, returned.Status)

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 1, bookAfter.AvailableCopies)
	assert.Equal(t, BookStatusMissing, bookAfter.Status, "the missing override survives the check-in")
}

func Test_ClearBookMissing_RestoresLending(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 2, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	_, markErr := cs.MarkBookMissing(ctxWithTimeout, book.ID, loanDay)
	assert.NoError(t, markErr, "error in arranging test data")

	cleared, clearErr := cs.ClearBookMissing(ctxWithTimeout, book.ID, loanDay)
	assert.NoError(t, clearErr, "error in arranging test data")
	assert.Equal(t, BookStatusAvailable, cleared.Status, "error in arranging test data")

	// act
	loan, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanStatusActive, loan.Status)
}

func Test_GetBook_When_BookDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.GetBook(ctxWithTimeout, GivenUniqueID(t))

	// assert
	assert.ErrorContains(t, err, ErrBookNotFound.Error())
}

func Test_RegisterPatron_CreatesAnActiveAccount(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	registrationDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)

	// act
	patron, err := cs.RegisterPatron(ctxWithTimeout, "Grace Hopper", "member", registrationDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, "Grace Hopper", patron.Name)
	assert.Equal(t, "member", patron.Role)
	assert.True(t, patron.Active)

	fetched, getErr := cs.GetPatron(ctxWithTimeout, patron.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, patron.ID, fetched.ID)
	assert.True(t, fetched.Active)
}

func Test_SetPatronActive_DeactivatesAndReactivates(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 2, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	deactivated, deactivateErr := cs.SetPatronActive(ctxWithTimeout, patron.ID, false, loanDay)
	assert.NoError(t, deactivateErr, "error in arranging test data")
	assert.False(t, deactivated.Active, "error in arranging test data")

	_, rejectedErr := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)
	assert.ErrorContains(t, rejectedErr, ErrPatronInactive.Error(), "error in arranging test data")

	// act
	reactivated, reactivateErr := cs.SetPatronActive(ctxWithTimeout, patron.ID, true, loanDay)
	loan, loanErr := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.NoError(t, reactivateErr)
	assert.True(t, reactivated.Active)
	assert.NoError(t, loanErr)
	assert.Equal(t, LoanStatusActive, loan.Status)
}

func Test_SetPatronActive_When_PatronDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.SetPatronActive(ctxWithTimeout, GivenUniqueID(t), false, Day(2024, time.January, 2))

	// assert
	assert.ErrorContains(t, err, ErrPatronNotFound.Error())
}

func Test_GetPatron_When_PatronDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.GetPatron(ctxWithTimeout, GivenUniqueID(t))

	// assert
	assert.ErrorContains(t, err, ErrPatronNotFound.Error())
}

func Test_DeactivatedPatron_CanStillReturnAndRenew(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)
	renewDay := Day(2024, time.January, 10)
	returnDay := Day(2024, time.January, 20)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	_, deactivateErr := cs.SetPatronActive(ctxWithTimeout, patron.ID, false, loanDay)
	assert.NoError(t, deactivateErr, "error in arranging test data")

	// act
	renewed, renewErr := cs.RenewLoan(ctxWithTimeout, loan.ID, renewDay)
	returned, returnErr := cs.ReturnLoan(ctxWithTimeout, loan.ID, returnDay)

	// assert
	assert.NoError(t, renewErr)
	assert.Equal(t, 1, renewed.Renewals)
	assert.NoError(t, returnErr)
	assert.Equal(t, LoanStatusReturned, returned.Status)
}
