package postgresengine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	. "github.com/openshelf/circulation-go/circulation"                                    //nolint:revive
	. "github.com/openshelf/circulation-go/circulation/postgresengine"                     //nolint:revive
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper"                 //nolint:revive
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper/postgreswrapper" //nolint:revive
)

func Test_CreateLoan_LendsAnAvailableCopy(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 3, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	// act
	loan, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, patron.ID, loan.PatronID)
	assert.Equal(t, loanDay, loan.LoanedOn)
	assert.Equal(t, Day(2024, time.January, 16), loan.DueOn)
	assert.Equal(t, 0, loan.Renewals)
	assert.Equal(t, LoanStatusActive, loan.Status)
	assert.Equal(t, int64(0), loan.FineCents)

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.AvailableCopies)
	assert.Equal(t, BookStatusAvailable, bookAfter.Status)
}

func Test_CreateLoan_UsesTheConfiguredLoanPeriod(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shortPolicy := DefaultPolicy()
	shortPolicy.LoanPeriodDays = 7

	wrapper := CreateWrapperWithTestConfig(t, WithPolicy(shortPolicy))
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	// act
	loan, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, Day(2024, time.January, 9), loan.DueOn)
}

func Test_CreateLoanForPeriod_OverridesTheDefaultLoanPeriod(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	// act
	loan, err := cs.CreateLoanForPeriod(ctxWithTimeout, book.ID, patron.ID, loanDay, 21)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, Day(2024, time.January, 23), loan.DueOn)
}

func Test_CreateLoan_When_TheLastCopyIsOut(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	firstPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	secondPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, firstPatron.ID, loanDay)

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, book.ID, secondPatron.ID, loanDay)

	// assert
	assert.ErrorContains(t, err, ErrBookUnavailable.Error())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 0, bookAfter.AvailableCopies)
	assert.Equal(t, BookStatusCheckedOut, bookAfter.Status)
}

func Test_CreateLoan_When_PatronIsDeactivated(t *testing.T) {
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
	patron := GivenDeactivatedPatron(t, ctxWithTimeout, cs, loanDay)

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, book.ID, patron.ID, loanDay)

	// assert
	assert.ErrorContains(t, err, ErrPatronInactive.Error())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.AvailableCopies)
}

func Test_CreateLoan_When_PatronHasOverdueLoans(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)
	muchLater := Day(2024, time.February, 1)

	// arrange
	CleanUp(t, wrapper)
	overdueBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	wantedBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, overdueBook.ID, patron.ID, loanDay) // due on Jan 16

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, wantedBook.ID, patron.ID, muchLater)

	// assert
	assert.ErrorContains(t, err, ErrPatronHasOverdueItems.Error())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, wantedBook.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 1, bookAfter.AvailableCopies)
}

func Test_CreateLoan_When_BookDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, GivenUniqueID(t), patron.ID, loanDay)

	// assert
	assert.ErrorContains(t, err, ErrBookNotFound.Error())
}

func Test_CreateLoan_When_PatronDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)

	// act
	_, err := cs.CreateLoan(ctxWithTimeout, book.ID, GivenUniqueID(t), loanDay)

	// assert
	assert.ErrorContains(t, err, ErrPatronNotFound.Error())
}

func Test_ReturnLoan_OnTime_ChargesNoFine(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)
	dueDay := Day(2024, time.January, 16)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	// act
	returned, err := cs.ReturnLoan(ctxWithTimeout, loan.ID, dueDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanStatusReturned, returned.Status)
	assert.NotNil(t, returned.ReturnedOn)
	assert.Equal(t, dueDay, *returned.ReturnedOn)
	assert.Equal(t, int64(0), returned.FineCents)
	assert.Equal(t, "0.00", returned.FineAmount())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 1, bookAfter.AvailableCopies)
	assert.Equal(t, BookStatusAvailable, bookAfter.Status)
}

func Test_ReturnLoan_Late_ChargesTheFine(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2023, time.December, 27) // due on Jan 10
	returnDay := Day(2024, time.January, 15)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)
	assert.Equal(t, Day(2024, time.January, 10), loan.DueOn, "error in arranging test data")

	// act
	returned, err := cs.ReturnLoan(ctxWithTimeout, loan.ID, returnDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanStatusReturned, returned.Status)
	assert.Equal(t, int64(250), returned.FineCents, "five days late at 50 cents per day")
	assert.Equal(t, "2.50", returned.FineAmount())
}

func Test_ReturnLoan_When_AlreadyReturned(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2023, time.December, 27)
	returnDay := Day(2024, time.January, 15)
	evenLater := Day(2024, time.February, 1)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenReturnedLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay, returnDay)

	// act
	_, err := cs.ReturnLoan(ctxWithTimeout, loan.ID, evenLater)

	// assert
	assert.ErrorContains(t, err, ErrLoanNotActive.Error())

	loanAfter, getErr := cs.GetLoan(ctxWithTimeout, loan.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, int64(250), loanAfter.FineCents, "a second return must not change the fine")

	bookAfter, bookErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, bookErr)
	assert.Equal(t, 1, bookAfter.AvailableCopies, "a second return must not restore another copy")
}

func Test_ReturnLoan_When_LoanDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.ReturnLoan(ctxWithTimeout, GivenUniqueID(t), Day(2024, time.January, 2))

	// assert
	assert.ErrorContains(t, err, ErrLoanNotFound.Error())
}

func Test_ReturnLoan_FreesTheCopyForTheNextPatron(t *testing.T) {
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
	firstPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	secondPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, firstPatron.ID, loanDay)

	_, rejectedErr := cs.CreateLoan(ctxWithTimeout, book.ID, secondPatron.ID, loanDay)
	assert.ErrorContains(t, rejectedErr, ErrBookUnavailable.Error(), "error in arranging test data")

	// act
	_, returnErr := cs.ReturnLoan(ctxWithTimeout, loan.ID, returnDay)
	secondLoan, retryErr := cs.CreateLoan(ctxWithTimeout, book.ID, secondPatron.ID, returnDay)

	// assert
	assert.NoError(t, returnErr)
	assert.NoError(t, retryErr)
	assert.Equal(t, secondPatron.ID, secondLoan.PatronID)
	assert.Equal(t, LoanStatusActive, secondLoan.Status)
}

func Test_RenewLoan_ExtendsFromTheCurrentDueDate(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2) // due on Jan 16
	renewDay := Day(2024, time.January, 10)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	// act
	renewed, err := cs.RenewLoan(ctxWithTimeout, loan.ID, renewDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 1, renewed.Renewals)
	assert.Equal(t, Day(2024, time.January, 30), renewed.DueOn, "the renewal counts from the due date, not from the renewal day")
	assert.Equal(t, LoanStatusActive, renewed.Status)
}

func Test_RenewLoan_When_RenewalLimitIsReached(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	_, firstErr := cs.RenewLoan(ctxWithTimeout, loan.ID, Day(2024, time.January, 10))
	assert.NoError(t, firstErr, "error in arranging test data")
	secondRenewal, secondErr := cs.RenewLoan(ctxWithTimeout, loan.ID, Day(2024, time.January, 20))
	assert.NoError(t, secondErr, "error in arranging test data")
	assert.Equal(t, 2, secondRenewal.Renewals, "error in arranging test data")

	// act
	_, err := cs.RenewLoan(ctxWithTimeout, loan.ID, Day(2024, time.January, 25))

	// assert
	assert.ErrorContains(t, err, ErrRenewalLimitExceeded.Error())

	loanAfter, getErr := cs.GetLoan(ctxWithTimeout, loan.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 2, loanAfter.Renewals)
	assert.Equal(t, secondRenewal.DueOn, loanAfter.DueOn, "a refused renewal must not move the due date")
}

func Test_RenewLoan_When_LoanIsOverdue(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2) // due on Jan 16
	muchLater := Day(2024, time.February, 1)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	// act
	_, err := cs.RenewLoan(ctxWithTimeout, loan.ID, muchLater)

	// assert
	assert.ErrorContains(t, err, ErrLoanNotActive.Error())
}

func Test_RenewLoan_When_LoanWasReturned(t *testing.T) {
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
	loan := GivenReturnedLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay, returnDay)

	// act
	_, err := cs.RenewLoan(ctxWithTimeout, loan.ID, returnDay)

	// assert
	assert.ErrorContains(t, err, ErrLoanNotActive.Error())
}

func Test_RenewLoan_When_LoanDoesNotExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	_, err := cs.RenewLoan(ctxWithTimeout, GivenUniqueID(t), Day(2024, time.January, 2))

	// assert
	assert.ErrorContains(t, err, ErrLoanNotFound.Error())
}

func Test_GetLoan_ReportsTheStoredAndEffectiveStatus(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2) // due on Jan 16
	muchLater := Day(2024, time.February, 1)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	// act
	fetched, err := cs.GetLoan(ctxWithTimeout, loan.ID)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanStatusActive, fetched.Status, "no sweep has run, so the stored status still reads active")
	assert.Equal(t, LoanStatusOverdue, fetched.StatusAsOf(muchLater))
	assert.True(t, fetched.IsOverdueAsOf(muchLater))
	assert.Equal(t, "active", GetStoredLoanStatusFromDB(t, wrapper, loan.ID))
}

func Test_ListPatronLoans_ReturnsTheLoansInOrder(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	firstDay := Day(2024, time.January, 2)
	secondDay := Day(2024, time.January, 5)

	// arrange
	CleanUp(t, wrapper)
	firstBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, firstDay)
	secondBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, firstDay)
	otherBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, firstDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, firstDay)
	otherPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, firstDay)

	firstLoan := GivenActiveLoan(t, ctxWithTimeout, cs, firstBook.ID, patron.ID, firstDay)
	secondLoan := GivenActiveLoan(t, ctxWithTimeout, cs, secondBook.ID, patron.ID, secondDay)
	GivenActiveLoan(t, ctxWithTimeout, cs, otherBook.ID, otherPatron.ID, firstDay)

	// act
	loans, err := cs.ListPatronLoans(ctxWithTimeout, patron.ID)

	// assert
	assert.NoError(t, err)
	assert.Len(t, loans, 2)
	assert.Equal(t, firstLoan.ID, loans[0].ID)
	assert.Equal(t, secondLoan.ID, loans[1].ID)
}

func Test_SweepOverdue_MarksOnlyOverdueLoans(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2) // due on Jan 16
	sweepDay := Day(2024, time.February, 1)
	recentDay := Day(2024, time.January, 28) // still current on the sweep day

	// arrange
	CleanUp(t, wrapper)
	firstBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	secondBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	recentBook := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	latePatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	punctualPatron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)

	firstOverdue := GivenActiveLoan(t, ctxWithTimeout, cs, firstBook.ID, latePatron.ID, loanDay)
	secondOverdue := GivenActiveLoan(t, ctxWithTimeout, cs, secondBook.ID, latePatron.ID, loanDay)
	currentLoan := GivenActiveLoan(t, ctxWithTimeout, cs, recentBook.ID, punctualPatron.ID, recentDay)

	// act
	marked, err := cs.SweepOverdue(ctxWithTimeout, sweepDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 2, marked)
	assert.Equal(t, "overdue", GetStoredLoanStatusFromDB(t, wrapper, firstOverdue.ID))
	assert.Equal(t, "overdue", GetStoredLoanStatusFromDB(t, wrapper, secondOverdue.ID))
	assert.Equal(t, "active", GetStoredLoanStatusFromDB(t, wrapper, currentLoan.ID))
	assert.Equal(t, 2, CountLoanEventsFromDB(t, wrapper, firstOverdue.ID), "created and marked overdue")
	assert.Equal(t, 1, CountLoanEventsFromDB(t, wrapper, currentLoan.ID), "created only")
}

func Test_SweepOverdue_IsIdempotent(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)
	sweepDay := Day(2024, time.February, 1)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	firstMarked, firstErr := cs.SweepOverdue(ctxWithTimeout, sweepDay)
	assert.NoError(t, firstErr, "error in arranging test data")
	assert.Equal(t, 1, firstMarked, "error in arranging test data")

	// act
	secondMarked, err := cs.SweepOverdue(ctxWithTimeout, sweepDay)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 0, secondMarked)
	assert.Equal(t, 2, CountLoanEventsFromDB(t, wrapper, loan.ID), "a repeated sweep must not append more events")
}

func Test_LoanHistory_RecordsTheFullLifecycle(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2023, time.December, 27) // due on Jan 10, on Jan 24 after the renewal
	renewDay := Day(2024, time.January, 5)
	returnDay := Day(2024, time.January, 29)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)
	patron := GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay)
	loan := GivenActiveLoan(t, ctxWithTimeout, cs, book.ID, patron.ID, loanDay)

	_, renewErr := cs.RenewLoan(ctxWithTimeout, loan.ID, renewDay)
	assert.NoError(t, renewErr, "error in arranging test data")

	returned, returnErr := cs.ReturnLoan(ctxWithTimeout, loan.ID, returnDay)
	assert.NoError(t, returnErr, "error in arranging test data")

	// act
	history, err := cs.LoanHistory(ctxWithTimeout, loan.ID)

	// assert
	assert.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, LoanCreatedEventType, history[0].EventType)
	assert.Equal(t, LoanRenewedEventType, history[1].EventType)
	assert.Equal(t, LoanReturnedEventType, history[2].EventType)

	createdPayload, createdErr := DecodeLoanCreatedPayload(history[0].PayloadJSON)
	assert.NoError(t, createdErr)
	assert.Equal(t, book.ID.String(), createdPayload.BookID)
	assert.Equal(t, patron.ID.String(), createdPayload.PatronID)

	renewedPayload, renewedErr := DecodeLoanRenewedPayload(history[1].PayloadJSON)
	assert.NoError(t, renewedErr)
	assert.Equal(t, 1, renewedPayload.Renewals)

	returnedPayload, returnedErr := DecodeLoanReturnedPayload(history[2].PayloadJSON)
	assert.NoError(t, returnedErr)
	assert.Equal(t, 5, returnedPayload.DaysLate)
	assert.Equal(t, returned.FineCents, returnedPayload.FineCents)
}

func Test_LoanHistory_IsEmptyForAnUnknownLoan(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// arrange
	CleanUp(t, wrapper)

	// act
	history, err := cs.LoanHistory(ctxWithTimeout, GivenUniqueID(t))

	// assert
	assert.NoError(t, err)
	assert.Empty(t, history)
}

func Test_CreateLoan_When_PatronsRaceForTheLastCopy_ExactlyOneWins(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t)
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	CleanUp(t, wrapper)
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 1, loanDay)

	numPatrons := 8
	patrons := make([]uuid.UUID, 0, numPatrons)
	for i := 0; i < numPatrons; i++ {
		patrons = append(patrons, GivenRegisteredPatron(t, ctxWithTimeout, cs, loanDay).ID)
	}

	successCount := atomic.Int32{}
	unavailableCount := atomic.Int32{}
	conflictCount := atomic.Int32{}

	var wg sync.WaitGroup

	// act
	for _, patronID := range patrons {
		wg.Add(1)

		go func(id uuid.UUID) {
			defer wg.Done()

			_, err := cs.CreateLoan(ctxWithTimeout, book.ID, id, loanDay)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, ErrBookUnavailable):
				unavailableCount.Add(1)
			case errors.Is(err, ErrTransactionConflict):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(patronID)
	}

	wg.Wait()

	// assert
	assert.Equal(t, int32(1), successCount.Load(), "exactly one patron gets the last copy")
	assert.Equal(t, int32(numPatrons), successCount.Load()+unavailableCount.Load()+conflictCount.Load())

	bookAfter, getErr := cs.GetBook(ctxWithTimeout, book.ID)
	assert.NoError(t, getErr)
	assert.Equal(t, 0, bookAfter.AvailableCopies)
	assert.Equal(t, BookStatusCheckedOut, bookAfter.Status)
}
