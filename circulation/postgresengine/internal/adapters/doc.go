// Package adapters provide database adapter implementations for the PostgreSQL circulation engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, allowing the circulation engine to work seamlessly with any
// supported database connection type.
//
// Besides plain query execution, every adapter can open a database transaction (DBTx),
// which the engine uses for its read-check-write operations with row locking.
// The adapters handle the specifics of each database library while presenting a
// unified interface for query execution and result handling.
package adapters
