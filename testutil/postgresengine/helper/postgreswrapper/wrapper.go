package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/circulation/postgresengine"
	"github.com/openshelf/circulation-go/testutil/postgresengine/config"
)

// Adapter type constants
const (
	typePGXPool = "pgx.pool"
	typeSQLDB   = "sql.db"
	typeSQLXDB  = "sqlx.db"
)

// Wrapper interface to abstract over different adapter types
type Wrapper interface {
	GetStore() postgresengine.CirculationStore
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool *pgxpool.Pool
	cs   postgresengine.CirculationStore
}

func (w *PGXPoolWrapper) GetStore() postgresengine.CirculationStore {
	return w.cs
}

// Pool exposes the underlying connection pool for raw fixture SQL in tests.
func (w *PGXPoolWrapper) Pool() *pgxpool.Pool {
	return w.pool
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db *sql.DB
	cs postgresengine.CirculationStore
}

func (w *SQLDBWrapper) GetStore() postgresengine.CirculationStore {
	return w.cs
}

// DB exposes the underlying database handle for raw fixture SQL in tests.
func (w *SQLDBWrapper) DB() *sql.DB {
	return w.db
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db *sqlx.DB
	cs postgresengine.CirculationStore
}

func (w *SQLXWrapper) GetStore() postgresengine.CirculationStore {
	return w.cs
}

// DB exposes the underlying database handle for raw fixture SQL in tests.
func (w *SQLXWrapper) DB() *sqlx.DB {
	return w.db
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// ReplicaPGXWrapper wraps pgxpool-based testing against a primary/replica pair.
// Only the pgx adapter supports routing reads to a replica.
type ReplicaPGXWrapper struct {
	primary *pgxpool.Pool
	replica *pgxpool.Pool
	cs      postgresengine.CirculationStore
}

func (w *ReplicaPGXWrapper) GetStore() postgresengine.CirculationStore {
	return w.cs
}

// Primary exposes the primary connection pool for raw fixture SQL in tests.
func (w *ReplicaPGXWrapper) Primary() *pgxpool.Pool {
	return w.primary
}

func (w *ReplicaPGXWrapper) Close() {
	w.primary.Close()
	w.replica.Close()
}

// CreateWrapperWithTestConfig creates the appropriate wrapper based on the ADAPTER_TYPE
// environment variable and runs the schema migrations so each test starts against a
// provisioned database.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	wrapper := createWrapper(t, options...)

	err := wrapper.GetStore().Migrate(context.Background())
	assert.NoError(t, err, "error migrating the schema in test setup")

	return wrapper
}

// TryCreateStore tries to create a circulation store with the given options
// and returns the error (for testing error cases)
func TryCreateStore(t testing.TB, options ...postgresengine.Option) error {
	adapterTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolSingleConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")
		defer connPool.Close()

		_, err = postgresengine.NewCirculationStoreFromPGXPool(connPool, options...)
		return err

	case typeSQLDB:
		db := config.PostgresSQLDBSingleConfig()
		defer func(db *sql.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewCirculationStoreFromSQLDB(db, options...)
		return err

	case typeSQLXDB:
		db := config.PostgresSQLXSingleConfig()
		defer func(db *sqlx.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewCirculationStoreFromSQLX(db, options...)
		return err

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterTypeFromEnv))
	}
}

// createWrapper is the internal function that builds the store for the configured adapter
func createWrapper(t testing.TB, options ...postgresengine.Option) Wrapper {
	adapterTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolSingleConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")

		cs, err := postgresengine.NewCirculationStoreFromPGXPool(connPool, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &PGXPoolWrapper{pool: connPool, cs: cs}

	case typeSQLDB:
		db := config.PostgresSQLDBSingleConfig()

		cs, err := postgresengine.NewCirculationStoreFromSQLDB(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &SQLDBWrapper{db: db, cs: cs}

	case typeSQLXDB:
		db := config.PostgresSQLXSingleConfig()

		cs, err := postgresengine.NewCirculationStoreFromSQLX(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &SQLXWrapper{db: db, cs: cs}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterTypeFromEnv))
	}
}

// CreateWrapperWithBenchmarkConfig creates the appropriate wrapper against the primary
// node of the replicated benchmark setup, based on the ADAPTER_TYPE environment variable
func CreateWrapperWithBenchmarkConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	adapterTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	var wrapper Wrapper

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolPrimaryConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")

		cs, err := postgresengine.NewCirculationStoreFromPGXPool(connPool, options...)
		assert.NoError(t, err, "error creating circulation store")

		wrapper = &PGXPoolWrapper{pool: connPool, cs: cs}

	case typeSQLDB:
		db := config.PostgresSQLDBPrimaryConfig()

		cs, err := postgresengine.NewCirculationStoreFromSQLDB(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		wrapper = &SQLDBWrapper{db: db, cs: cs}

	case typeSQLXDB:
		db := config.PostgresSQLXPrimaryConfig()

		cs, err := postgresengine.NewCirculationStoreFromSQLX(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		wrapper = &SQLXWrapper{db: db, cs: cs}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterTypeFromEnv))
	}

	err := wrapper.GetStore().Migrate(context.Background())
	assert.NoError(t, err, "error migrating the schema in test setup")

	return wrapper
}

// CreateReplicaWrapperWithBenchmarkConfig creates a wrapper whose store routes
// eventually consistent reads to the replica node of the benchmark setup
func CreateReplicaWrapperWithBenchmarkConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	primary, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolPrimaryConfig())
	assert.NoError(t, err, "error connecting to primary DB pool in test setup")

	replica, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolReplicaConfig())
	assert.NoError(t, err, "error connecting to replica DB pool in test setup")

	cs, err := postgresengine.NewCirculationStoreFromPGXPoolWithReplica(primary, replica, options...)
	assert.NoError(t, err, "error creating circulation store")

	err = cs.Migrate(context.Background())
	assert.NoError(t, err, "error migrating the schema in test setup")

	return &ReplicaPGXWrapper{primary: primary, replica: replica, cs: cs}
}

// CleanUp truncates all circulation tables for the given wrapper
func CleanUp(t testing.TB, wrapper Wrapper) {
	statement := "TRUNCATE TABLE loan_events, loans, patrons, books RESTART IDENTITY"

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		_, err := w.pool.Exec(context.Background(), statement)
		assert.NoError(t, err, "error cleaning up the circulation tables")

	case *SQLDBWrapper:
		_, err := w.db.Exec(statement)
		assert.NoError(t, err, "error cleaning up the circulation tables")

	case *SQLXWrapper:
		_, err := w.db.Exec(statement)
		assert.NoError(t, err, "error cleaning up the circulation tables")

	case *ReplicaPGXWrapper:
		_, err := w.primary.Exec(context.Background(), statement)
		assert.NoError(t, err, "error cleaning up the circulation tables")

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}
}

// GetStoredLoanStatusFromDB reads the persisted loan status directly from the loans
// table, bypassing the store API and its derived status logic
func GetStoredLoanStatusFromDB(t testing.TB, wrapper Wrapper, loanID uuid.UUID) string {
	query := fmt.Sprintf(`SELECT status FROM loans WHERE id = '%s'`, loanID.String())

	var status string
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		row := w.pool.QueryRow(context.Background(), query)
		err = row.Scan(&status)

	case *SQLDBWrapper:
		row := w.db.QueryRow(query)
		err = row.Scan(&status)

	case *SQLXWrapper:
		row := w.db.QueryRow(query)
		err = row.Scan(&status)

	case *ReplicaPGXWrapper:
		row := w.primary.QueryRow(context.Background(), query)
		err = row.Scan(&status)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	assert.NoError(t, err, "error reading the stored loan status")
	return status
}

// CountLoanEventsFromDB counts the audit rows for a single loan directly from the
// loan_events table for the given wrapper
func CountLoanEventsFromDB(t testing.TB, wrapper Wrapper, loanID uuid.UUID) int {
	query := fmt.Sprintf(`SELECT count(*) FROM loan_events WHERE loan_id = '%s'`, loanID.String())

	var cnt int
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		row := w.pool.QueryRow(context.Background(), query)
		err = row.Scan(&cnt)

	case *SQLDBWrapper:
		row := w.db.QueryRow(query)
		err = row.Scan(&cnt)

	case *SQLXWrapper:
		row := w.db.QueryRow(query)
		err = row.Scan(&cnt)

	case *ReplicaPGXWrapper:
		row := w.primary.QueryRow(context.Background(), query)
		err = row.Scan(&cnt)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	assert.NoError(t, err, "error counting the loan events")
	return cnt
}

// OptimizeDBWhileBenchmarking refreshes planner statistics on the hot tables between
// benchmark runs for the given wrapper
func OptimizeDBWhileBenchmarking(wrapper Wrapper) error {
	statement := `VACUUM ANALYZE loans, books, patrons, loan_events`

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		_, execErr := w.pool.Exec(context.Background(), statement)
		if execErr != nil {
			return execErr
		}

		return nil

	case *SQLDBWrapper:
		_, execErr := w.db.Exec(statement)
		if execErr != nil {
			return execErr
		}

		return nil

	case *SQLXWrapper:
		_, execErr := w.db.Exec(statement)
		if execErr != nil {
			return execErr
		}

		return nil

	case *ReplicaPGXWrapper:
		_, execErr := w.primary.Exec(context.Background(), statement)
		if execErr != nil {
			return execErr
		}

		return nil

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}
}
