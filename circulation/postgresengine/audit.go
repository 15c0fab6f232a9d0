package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine/internal/adapters"
)

// LoanHistory returns the audit trail of the given loan in the order the
// transitions were recorded.
//
// The read honors the consistency level carried in the context; see
// circulation.WithEventualConsistency.
func (cs CirculationStore) LoanHistory(ctx context.Context, loanID uuid.UUID) (circulation.LoanEvents, error) {
	observer, ctx := cs.startOperation(ctx, operationLoanHistory, map[string]string{
		spanAttrLoanID: loanID.String(),
	})

	sqlQuery, buildQueryErr := cs.buildSelectLoanEventsQuery(loanID)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)

		return nil, observer.fail(buildQueryErr)
	}

	rows, _, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery, operationLoanHistory)
	if queryErr != nil {
		return nil, observer.fail(queryErr)
	}
	defer cs.closeRows(ctx, rows)

	var history circulation.LoanEvents

	for rows.Next() {
		event, scanErr := cs.scanLoanEventRow(ctx, rows, loanID)
		if scanErr != nil {
			return nil, observer.fail(scanErr)
		}

		history = append(history, event)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		cs.logError(ctx, logMsgDBQueryFailed, rowsErr)

		return nil, observer.fail(errors.Join(circulation.ErrQueryingRecordsFailed, rowsErr))
	}

	observer.succeed(nil)

	return history, nil
}

func (cs CirculationStore) buildSelectLoanEventsQuery(loanID uuid.UUID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.table(tableLoanEvents)).
		Select(colEventType, colOccurredAt, colPayload).
		Where(goqu.Ex{colLoanID: loanID.String()}).
		Order(goqu.I(colSequenceNumber).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (cs CirculationStore) scanLoanEventRow(ctx context.Context, rows adapters.DBRows, loanID uuid.UUID) (circulation.LoanEvent, error) {
	var empty circulation.LoanEvent

	var (
		eventType   string
		occurredAt  time.Time
		payloadJSON []byte
	)

	rowScanErr := rows.Scan(&eventType, &occurredAt, &payloadJSON)
	if rowScanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

		return empty, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
	}

	event, buildErr := circulation.BuildLoanEvent(eventType, loanID, occurredAt, payloadJSON)
	if buildErr != nil {
		cs.logError(ctx, logMsgBuildLoanEventFailed, buildErr)

		return empty, errors.Join(circulation.ErrBuildingLoanEventFailed, buildErr)
	}

	return event, nil
}

// appendLoanEvent records one lifecycle transition inside the operation's
// transaction, so the audit trail can never disagree with the records.
func (cs CirculationStore) appendLoanEvent(ctx context.Context, tx adapters.DBTx, event circulation.LoanEvent) error {
	return cs.appendLoanEvents(ctx, tx, circulation.LoanEvents{event})
}

// appendLoanEvents records a batch of lifecycle transitions in one insert.
func (cs CirculationStore) appendLoanEvents(ctx context.Context, tx adapters.DBTx, events circulation.LoanEvents) error {
	if len(events) == 0 {
		return nil
	}

	sqlQuery, buildQueryErr := cs.buildInsertLoanEventsQuery(events)
	if buildQueryErr != nil {
		cs.logError(ctx, logMsgBuildInsertQueryFailed, buildQueryErr)

		return buildQueryErr
	}

	rowsAffected, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, operationAppendEvents)
	if execErr != nil {
		return execErr
	}

	return cs.validateAffectedRows(ctx, rowsAffected, len(events))
}

func (cs CirculationStore) buildInsertLoanEventsQuery(events circulation.LoanEvents) (sqlQueryString, error) {
	records := make([]any, 0, len(events))

	for _, event := range events {
		records = append(records, goqu.Record{
			colEventType:  event.EventType,
			colLoanID:     event.LoanID.String(),
			colOccurredAt: event.OccurredAt,
			colPayload:    string(event.PayloadJSON),
		})
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.table(tableLoanEvents)).
		Rows(records...)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}
