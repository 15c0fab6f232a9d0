package circulation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_BuildLoanEvent_ErrorCases(t *testing.T) {
	validTime := time.Now()

	tests := []struct {
		name        string
		eventType   string
		payloadJSON []byte
		expectedErr error
	}{
		{
			name:        "invalid payload JSON",
			eventType:   "TestEvent",
			payloadJSON: []byte(`{"invalid": json}`),
			expectedErr: ErrInvalidPayloadJSON,
		},
		{
			name:        "empty payload JSON",
			eventType:   "TestEvent",
			payloadJSON: []byte(``),
			expectedErr: ErrInvalidPayloadJSON,
		},
		{
			name:        "nil payload JSON",
			eventType:   "TestEvent",
			payloadJSON: nil,
			expectedErr: ErrInvalidPayloadJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildLoanEvent(tt.eventType, uuid.New(), validTime, tt.payloadJSON)
			assert.ErrorContains(t, err, tt.expectedErr.Error())
		})
	}
}

func Test_BuildLoanEvent_Success(t *testing.T) {
	eventType := LoanCreatedEventType
	loanID := uuid.New()
	occurredAt := time.Now()
	payloadJSON := []byte(`{"BookID": "book-123", "PatronID": "patron-456"}`)

	loanEvent, err := BuildLoanEvent(eventType, loanID, occurredAt, payloadJSON)
	assert.NoError(t, err)
	assert.Equal(t, eventType, loanEvent.EventType)
	assert.Equal(t, loanID, loanEvent.LoanID)
	assert.Equal(t, ToOccurredAt(occurredAt), loanEvent.OccurredAt)
	assert.Equal(t, payloadJSON, loanEvent.PayloadJSON)
}

func Test_BuildLoanCreatedEvent_PayloadCarriesTheLoan(t *testing.T) {
	// arrange
	policy := DefaultPolicy()
	loanedOn := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	loan := BuildLoan(uuid.New(), uuid.New(), uuid.New(), loanedOn, policy)

	// act
	loanEvent, err := BuildLoanCreatedEvent(loan, time.Now())
	assert.NoError(t, err)

	payload, err := DecodeLoanCreatedPayload(loanEvent.PayloadJSON)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, LoanCreatedEventType, loanEvent.EventType)
	assert.Equal(t, loan.ID, loanEvent.LoanID)
	assert.Equal(t, loan.BookID.String(), payload.BookID)
	assert.Equal(t, loan.PatronID.String(), payload.PatronID)
	assert.True(t, payload.DueOn.Equal(loan.DueOn), "Payload should carry the computed due date")
}

func Test_BuildLoanReturnedEvent_PayloadCarriesTheFine(t *testing.T) {
	// arrange
	policy := DefaultPolicy()
	loanedOn := time.Date(2023, time.December, 27, 0, 0, 0, 0, time.UTC)
	loan := BuildLoan(uuid.New(), uuid.New(), uuid.New(), loanedOn, policy)

	returned, err := loan.Return(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), policy)
	assert.NoError(t, err)

	// act
	loanEvent, err := BuildLoanReturnedEvent(returned, time.Now())
	assert.NoError(t, err)

	payload, err := DecodeLoanReturnedPayload(loanEvent.PayloadJSON)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 5, payload.DaysLate)
	assert.Equal(t, int64(250), payload.FineCents)
	assert.True(t, payload.ReturnedOn.Equal(*returned.ReturnedOn))
}

func Test_BuildLoanReturnedEvent_RequiresReturnedLoan(t *testing.T) {
	// arrange
	policy := DefaultPolicy()
	loan := BuildLoan(uuid.New(), uuid.New(), uuid.New(), time.Now(), policy)

	// act
	_, err := BuildLoanReturnedEvent(loan, time.Now())

	// assert
	assert.ErrorIs(t, err, ErrLoanNotActive)
}

func Test_DecodeLoanEventPayload_InvalidJSON_Fails(t *testing.T) {
	_, err := DecodeLoanRenewedPayload([]byte(`not json at all`))
	assert.ErrorIs(t, err, ErrDecodingLoanEventFailed)
}
