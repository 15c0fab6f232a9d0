package circulation

import (
	"encoding/json"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/google/uuid"
)

// ErrInvalidPayloadJSON is returned when a loan event payload is not valid JSON.
var ErrInvalidPayloadJSON = errors.New("payload json is not valid")

// ErrDecodingLoanEventFailed is returned when a loan event payload cannot be decoded.
var ErrDecodingLoanEventFailed = errors.New("decoding loan event payload failed")

// Event type identifiers for the loan audit trail.
const (
	LoanCreatedEventType       = "LoanCreated"
	LoanRenewedEventType       = "LoanRenewed"
	LoanReturnedEventType      = "LoanReturned"
	LoanMarkedOverdueEventType = "LoanMarkedOverdue"
)

// LoanEvents is an alias type for a slice of LoanEvent.
type LoanEvents = []LoanEvent

// LoanEvent is a DTO (data transfer object) recording one transition in a
// loan's lifecycle. Storage engines append one per successful operation,
// inside the same atomicity boundary as the operation itself, so the audit
// trail never disagrees with the records.
//
// While its properties are exported, it should only be constructed with the
// supplied factory methods:
//   - BuildLoanEvent
//   - BuildLoanCreatedEvent, BuildLoanRenewedEvent,
//     BuildLoanReturnedEvent, BuildLoanMarkedOverdueEvent
type LoanEvent struct {
	EventType   string
	LoanID      uuid.UUID
	OccurredAt  time.Time
	PayloadJSON []byte
}

// ToOccurredAt converts a time to an event timestamp with UTC normalization
// and microsecond precision.
func ToOccurredAt(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// BuildLoanEvent is a factory method for LoanEvent.
//
// It populates the LoanEvent with the given scalar input.
// Returns ErrInvalidPayloadJSON if payloadJSON is not valid JSON.
func BuildLoanEvent(eventType string, loanID uuid.UUID, occurredAt time.Time, payloadJSON []byte) (LoanEvent, error) {
	if !json.Valid(payloadJSON) {
		return LoanEvent{}, ErrInvalidPayloadJSON
	}

	loanEvent := LoanEvent{
		EventType:   eventType,
		LoanID:      loanID,
		OccurredAt:  ToOccurredAt(occurredAt),
		PayloadJSON: payloadJSON,
	}

	return loanEvent, nil
}

// LoanCreatedPayload is the payload recorded when a loan is created.
type LoanCreatedPayload struct {
	BookID   BookIDString
	PatronID PatronIDString
	LoanedOn LoanDate
	DueOn    LoanDate
}

// LoanRenewedPayload is the payload recorded when a loan is renewed.
type LoanRenewedPayload struct {
	Renewals int
	DueOn    LoanDate
}

// LoanReturnedPayload is the payload recorded when a loan is returned.
type LoanReturnedPayload struct {
	ReturnedOn LoanDate
	DaysLate   int
	FineCents  int64
}

// LoanMarkedOverduePayload is the payload recorded when the overdue sweep
// persists a loan's overdue status.
type LoanMarkedOverduePayload struct {
	DueOn LoanDate
}

// BuildLoanCreatedEvent creates the audit event for a freshly created loan.
func BuildLoanCreatedEvent(loan Loan, occurredAt time.Time) (LoanEvent, error) {
	payload := LoanCreatedPayload{
		BookID:   loan.BookID.String(),
		PatronID: loan.PatronID.String(),
		LoanedOn: loan.LoanedOn,
		DueOn:    loan.DueOn,
	}

	return buildLoanEventWithPayload(LoanCreatedEventType, loan.ID, occurredAt, payload)
}

// BuildLoanRenewedEvent creates the audit event for a renewed loan.
func BuildLoanRenewedEvent(loan Loan, occurredAt time.Time) (LoanEvent, error) {
	payload := LoanRenewedPayload{
		Renewals: loan.Renewals,
		DueOn:    loan.DueOn,
	}

	return buildLoanEventWithPayload(LoanRenewedEventType, loan.ID, occurredAt, payload)
}

// BuildLoanReturnedEvent creates the audit event for a returned loan.
// The loan must already be in the returned state.
func BuildLoanReturnedEvent(loan Loan, occurredAt time.Time) (LoanEvent, error) {
	if loan.ReturnedOn == nil {
		return LoanEvent{}, ErrLoanNotActive
	}

	payload := LoanReturnedPayload{
		ReturnedOn: *loan.ReturnedOn,
		DaysLate:   loan.DaysLate(*loan.ReturnedOn),
		FineCents:  loan.FineCents,
	}

	return buildLoanEventWithPayload(LoanReturnedEventType, loan.ID, occurredAt, payload)
}

// BuildLoanMarkedOverdueEvent creates the audit event for a loan whose
// overdue status was persisted by the sweep.
func BuildLoanMarkedOverdueEvent(loan Loan, occurredAt time.Time) (LoanEvent, error) {
	payload := LoanMarkedOverduePayload{
		DueOn: loan.DueOn,
	}

	return buildLoanEventWithPayload(LoanMarkedOverdueEventType, loan.ID, occurredAt, payload)
}

func buildLoanEventWithPayload(eventType string, loanID uuid.UUID, occurredAt time.Time, payload any) (LoanEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return LoanEvent{}, errors.Join(ErrInvalidPayloadJSON, err)
	}

	return BuildLoanEvent(eventType, loanID, occurredAt, payloadJSON)
}

// DecodeLoanCreatedPayload decodes the payload of a LoanCreated event.
func DecodeLoanCreatedPayload(payloadJSON []byte) (LoanCreatedPayload, error) {
	payload := new(LoanCreatedPayload)

	err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, payload)
	if err != nil {
		return LoanCreatedPayload{}, errors.Join(ErrDecodingLoanEventFailed, err)
	}

	return *payload, nil
}

// DecodeLoanRenewedPayload decodes the payload of a LoanRenewed event.
func DecodeLoanRenewedPayload(payloadJSON []byte) (LoanRenewedPayload, error) {
	payload := new(LoanRenewedPayload)

	err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, payload)
	if err != nil {
		return LoanRenewedPayload{}, errors.Join(ErrDecodingLoanEventFailed, err)
	}

	return *payload, nil
}

// DecodeLoanReturnedPayload decodes the payload of a LoanReturned event.
func DecodeLoanReturnedPayload(payloadJSON []byte) (LoanReturnedPayload, error) {
	payload := new(LoanReturnedPayload)

	err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, payload)
	if err != nil {
		return LoanReturnedPayload{}, errors.Join(ErrDecodingLoanEventFailed, err)
	}

	return *payload, nil
}

// DecodeLoanMarkedOverduePayload decodes the payload of a LoanMarkedOverdue event.
func DecodeLoanMarkedOverduePayload(payloadJSON []byte) (LoanMarkedOverduePayload, error) {
	payload := new(LoanMarkedOverduePayload)

	err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, payload)
	if err != nil {
		return LoanMarkedOverduePayload{}, errors.Join(ErrDecodingLoanEventFailed, err)
	}

	return *payload, nil
}
