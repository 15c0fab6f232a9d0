package adapters

import "context"

// DBAdapter defines the interface for database operations needed by the circulation engine.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
	Begin(ctx context.Context) (DBTx, error)
}

// DBTx defines the interface for operations inside one database transaction.
//
// Transactions always run on the primary database. Rollback after a successful
// Commit must be a no-op error that callers can ignore, which matches the
// behavior of all wrapped libraries and allows the usual deferred rollback.
type DBTx interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
// Err reports errors that ended the iteration early and must be checked
// after the Next loop finishes.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
