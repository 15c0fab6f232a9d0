// Package memoryengine provides an in-memory implementation of the circulation store.
//
// It offers the same operation set as the PostgreSQL engine with no
// infrastructure behind it: state lives in process memory and is gone when
// the store is. A single mutex stands in for the database's row locks, so
// every operation is atomic and the concurrency guarantees hold, including
// the one-winner rule when checkouts race for the last copy of a book.
//
// Use it for tests, demos and prototypes; use the PostgreSQL engine for
// anything that has to survive a restart.
//
// Usage example:
//
//	store, _ := memoryengine.NewCirculationStore(
//		memoryengine.WithPolicy(policy),
//	)
//
//	book, _ := store.AddBook(ctx, "Title", "Author", 3, time.Now())
//	loan, _ := store.CreateLoan(ctx, book.ID, patronID, time.Now())
package memoryengine
