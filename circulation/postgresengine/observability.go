package postgresengine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/openshelf/circulation-go/circulation"
)

const (
	metricOperationDuration    = "circulation_operation_duration_seconds"
	metricDatabaseErrors       = "circulation_database_errors_total"
	metricTransactionConflicts = "circulation_transaction_conflicts_total"
	metricOperationsRejected   = "circulation_operations_rejected_total"
	metricFinesAssessedCents   = "circulation_fines_assessed_cents"
	metricLoansMarkedOverdue   = "circulation_loans_marked_overdue"

	labelOperation = "operation"
	labelReason    = "reason"

	spanNamePrefix = "circulation."

	spanAttrOperation = "circulation.operation"
	spanAttrBookID    = "circulation.book_id"
	spanAttrPatronID  = "circulation.patron_id"
	spanAttrLoanID    = "circulation.loan_id"
	spanAttrDueOn     = "circulation.due_on"
	spanAttrFineCents = "circulation.fine_cents"
	spanAttrMarked    = "circulation.marked_count"
	spanAttrErrorType = "circulation.error_type"

	statusSuccess = "success"
	statusError   = "error"

	operationCreateLoan       = "create_loan"
	operationReturnLoan       = "return_loan"
	operationRenewLoan        = "renew_loan"
	operationSweepOverdue     = "sweep_overdue"
	operationAddBook          = "add_book"
	operationAdjustBookCopies = "adjust_book_copies"
	operationMarkBookMissing  = "mark_book_missing"
	operationClearBookMissing = "clear_book_missing"
	operationRegisterPatron   = "register_patron"
	operationSetPatronActive  = "set_patron_active"
	operationGetBook          = "get_book"
	operationGetPatron        = "get_patron"
	operationGetLoan          = "get_loan"
	operationListPatronLoans  = "list_patron_loans"
	operationLoanHistory      = "loan_history"
	operationAppendEvents     = "append_loan_events"
	operationMigrate          = "migrate"

	errorTypeDatabase = "database_error"
	errorTypeConflict = "transaction_conflict"
	errorTypeNotFound = "not_found"
	errorTypeRejected = "precondition_failed"
	errorTypeInvalid  = "invalid_input"
)

// durationToMilliseconds converts a duration to milliseconds with 3 decimal precision for logging.
func durationToMilliseconds(duration queryDuration) float64 {
	return math.Round(float64(duration.Nanoseconds())/1e6*1000) / 1000
}

// errorTypeOf classifies an operation error for metrics and span attributes.
func errorTypeOf(err error) string {
	switch {
	case errorIsAny(err,
		circulation.ErrTransactionConflict):
		return errorTypeConflict
	case errorIsAny(err,
		circulation.ErrBookNotFound,
		circulation.ErrPatronNotFound,
		circulation.ErrLoanNotFound):
		return errorTypeNotFound
	case errorIsAny(err,
		circulation.ErrBookUnavailable,
		circulation.ErrInventoryExhausted,
		circulation.ErrPatronInactive,
		circulation.ErrPatronHasOverdueItems,
		circulation.ErrLoanNotActive,
		circulation.ErrRenewalLimitExceeded,
		circulation.ErrInvalidCopyCount):
		return errorTypeRejected
	case errorIsAny(err,
		circulation.ErrInvalidPolicy,
		circulation.ErrInvalidPayloadJSON):
		return errorTypeInvalid
	default:
		return errorTypeDatabase
	}
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// === Logging helper methods ===

// logQueryWithDuration logs SQL execution with timing information,
// preferring the contextual logger when one is configured.
func (cs CirculationStore) logQueryWithDuration(ctx context.Context, sqlQuery sqlQueryString, action string, duration queryDuration) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action,
			logAttrQuery, sqlQuery, logAttrDurationMS, durationToMilliseconds(duration))

		return
	}

	if cs.logger != nil {
		cs.logger.Debug(logMsgSQLExecuted+action,
			logAttrQuery, sqlQuery, logAttrDurationMS, durationToMilliseconds(duration))
	}
}

// logOperation logs circulation operation information at info level.
func (cs CirculationStore) logOperation(ctx context.Context, message string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.InfoContext(ctx, logMsgOperation+message, args...)

		return
	}

	if cs.logger != nil {
		cs.logger.Info(logMsgOperation+message, args...)
	}
}

// logWarn logs recoverable problems at warning level.
func (cs CirculationStore) logWarn(ctx context.Context, message string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.WarnContext(ctx, message, args...)

		return
	}

	if cs.logger != nil {
		cs.logger.Warn(message, args...)
	}
}

// logError logs an error with the failed operation's message and optional extra attributes.
func (cs CirculationStore) logError(ctx context.Context, message string, err error, args ...any) {
	attrs := append([]any{logAttrError, err.Error()}, args...)

	if cs.contextualLogger != nil {
		cs.contextualLogger.ErrorContext(ctx, message, attrs...)

		return
	}

	if cs.logger != nil {
		cs.logger.Error(message, attrs...)
	}
}

// === Metrics helper methods ===

// recordDuration records a duration metric, using context-aware methods when available.
func (cs CirculationStore) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if cs.metricsCollector == nil {
		return
	}

	if contextual, ok := cs.metricsCollector.(circulation.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)

		return
	}

	cs.metricsCollector.RecordDuration(metric, duration, labels)
}

// incrementCounter records a counter metric, using context-aware methods when available.
func (cs CirculationStore) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if cs.metricsCollector == nil {
		return
	}

	if contextual, ok := cs.metricsCollector.(circulation.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)

		return
	}

	cs.metricsCollector.IncrementCounter(metric, labels)
}

// recordValue records a value metric, using context-aware methods when available.
func (cs CirculationStore) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if cs.metricsCollector == nil {
		return
	}

	if contextual, ok := cs.metricsCollector.(circulation.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)

		return
	}

	cs.metricsCollector.RecordValue(metric, value, labels)
}

func (cs CirculationStore) recordOperationDuration(ctx context.Context, operation string, duration time.Duration) {
	cs.recordDuration(ctx, metricOperationDuration, duration, map[string]string{labelOperation: operation})
}

func (cs CirculationStore) recordDatabaseErrorMetrics(ctx context.Context, operation string) {
	cs.incrementCounter(ctx, metricDatabaseErrors, map[string]string{labelOperation: operation})
}

func (cs CirculationStore) recordConflictMetrics(ctx context.Context, operation string) {
	cs.incrementCounter(ctx, metricTransactionConflicts, map[string]string{labelOperation: operation})
}

func (cs CirculationStore) recordRejectionMetrics(ctx context.Context, operation string, reason string) {
	cs.incrementCounter(ctx, metricOperationsRejected, map[string]string{labelOperation: operation, labelReason: reason})
}

func (cs CirculationStore) recordFineAssessed(ctx context.Context, fineCents int64) {
	cs.recordValue(ctx, metricFinesAssessedCents, float64(fineCents), nil)
}

func (cs CirculationStore) recordLoansMarkedOverdue(ctx context.Context, markedCount int) {
	cs.recordValue(ctx, metricLoansMarkedOverdue, float64(markedCount), nil)
}

// === Operation observer ===

// operationObserver bundles the timing, metrics and tracing bookkeeping that
// every store operation performs, so the operations themselves stay readable.
type operationObserver struct {
	cs        CirculationStore
	ctx       context.Context
	operation string
	span      circulation.SpanContext
	start     time.Time
}

// startOperation begins observing a store operation.
// The returned context carries the tracing span when tracing is configured.
func (cs CirculationStore) startOperation(ctx context.Context, operation string, attrs map[string]string) (*operationObserver, context.Context) {
	observer := &operationObserver{cs: cs, operation: operation, start: time.Now()}

	if cs.tracingCollector != nil {
		spanAttrs := map[string]string{spanAttrOperation: operation}
		for key, value := range attrs {
			spanAttrs[key] = value
		}

		ctx, observer.span = cs.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
	}

	observer.ctx = ctx

	return observer, ctx
}

// succeed finishes the observation for a completed operation.
func (oo *operationObserver) succeed(attrs map[string]string) {
	oo.cs.recordOperationDuration(oo.ctx, oo.operation, time.Since(oo.start))

	if oo.span != nil {
		oo.cs.tracingCollector.FinishSpan(oo.span, statusSuccess, attrs)
	}
}

// fail finishes the observation for a failed operation and passes the error
// through, so call sites can return it directly.
func (oo *operationObserver) fail(err error) error {
	errorType := errorTypeOf(err)

	switch errorType {
	case errorTypeConflict:
		oo.cs.recordConflictMetrics(oo.ctx, oo.operation)
	case errorTypeDatabase:
		oo.cs.recordDatabaseErrorMetrics(oo.ctx, oo.operation)
	default:
		oo.cs.recordRejectionMetrics(oo.ctx, oo.operation, errorType)
		oo.cs.logOperation(oo.ctx, logMsgOperationRejected,
			logAttrOperation, oo.operation, logAttrReason, errorType)
	}

	if oo.span != nil {
		oo.span.AddAttribute(spanAttrErrorType, errorType)
		oo.cs.tracingCollector.FinishSpan(oo.span, statusError, map[string]string{logAttrError: err.Error()})
	}

	return err
}
