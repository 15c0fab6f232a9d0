// Package postgresengine provides a PostgreSQL implementation of the circulation store.
//
// This package keeps the library's inventory and loan records consistent using
// PostgreSQL as the storage backend, supporting multiple database adapters
// (pgx, sql.DB, sqlx) with transactional operations and row locking.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Atomic loan operations with row locking and conflict detection
//   - Loan audit trail appended in the same transaction as the records
//   - Periodic overdue sweep with an embeddable monitor
//   - Configurable table prefix, lending policy and dual-logger support
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewCirculationStoreFromPGXPool(db)
//	_ = store.Migrate(ctx)
//
//	// With a custom policy and operational logging
//	store, _ := postgresengine.NewCirculationStoreFromPGXPool(
//		db,
//		postgresengine.WithPolicy(policy),
//		postgresengine.WithLogger(logger),
//	)
//
//	loan, _ := store.CreateLoan(ctx, bookID, patronID, time.Now())
//	returned, _ := store.ReturnLoan(ctx, loan.ID, time.Now())
package postgresengine
