// Package pgtesthelpers provides fixture and bulk-data utilities for benchmarking
// the PostgreSQL circulation store.
//
// The helpers work against the postgreswrapper.Wrapper abstraction, so the same
// benchmark code runs with every supported database adapter (pgx.pool, sql.db,
// sqlx.db). Fixture data is written with raw SQL through the wrapper's
// connection, bypassing the store API, because benchmark setup needs volume,
// not semantics.
//
// Utility Functions:
//
//	EnsureFixtureLoans: bulk-inserts returned loans until a minimum row count is reached
//	CountLoansInDB: counts all loans for fixture guards
//	GetBusiestPatronIDFromDB: finds a patron with a long loan history for list benchmarks
//	CleanUpLoanTraces: removes one loan and its audit rows between iterations
//
// Environment Variables:
//
//	ADAPTER_TYPE: selects adapter (pgx.pool, sql.db, sqlx.db)
package pgtesthelpers
