package postgresengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/openshelf/circulation-go/circulation"
)

const (
	tableSchemaMigrations = "schema_migrations"
	colVersion            = "version"

	latestSchemaVersion = 2
)

// Migrate brings the store's tables up to the latest schema version,
// applying each pending migration in its own transaction. Multiple stores
// can share one database when they use distinct table prefixes.
func (cs CirculationStore) Migrate(ctx context.Context) error {
	if err := cs.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	currentVersion, versionErr := cs.currentSchemaVersion(ctx)
	if versionErr != nil {
		return versionErr
	}

	for version := currentVersion + 1; version <= latestSchemaVersion; version++ {
		if err := cs.applyMigration(ctx, version); err != nil {
			return fmt.Errorf("migration v%d failed: %w", version, err)
		}
	}

	return nil
}

func (cs CirculationStore) ensureMigrationsTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  version INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, cs.table(tableSchemaMigrations))

	_, _, execErr := cs.executeStatement(ctx, cs.db, ddl, operationMigrate)

	return execErr
}

func (cs CirculationStore) currentSchemaVersion(ctx context.Context) (int, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.table(tableSchemaMigrations)).
		Select(goqu.COALESCE(goqu.MAX(colVersion), 0))

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, _, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery, operationMigrate)
	if queryErr != nil {
		return 0, queryErr
	}
	defer cs.closeRows(ctx, rows)

	var version int

	if rows.Next() {
		if rowScanErr := rows.Scan(&version); rowScanErr != nil {
			cs.logError(ctx, logMsgScanRowFailed, rowScanErr)

			return 0, errors.Join(circulation.ErrScanningDBRowFailed, rowScanErr)
		}
	}

	return version, nil
}

func (cs CirculationStore) applyMigration(ctx context.Context, version int) error {
	statements, statementsErr := cs.migrationStatements(version)
	if statementsErr != nil {
		return statementsErr
	}

	tx, beginErr := cs.beginTx(ctx)
	if beginErr != nil {
		return beginErr
	}
	defer cs.rollbackTx(ctx, tx)

	if _, _, execErr := cs.executeStatement(ctx, tx, statements, operationMigrate); execErr != nil {
		return execErr
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.table(tableSchemaMigrations)).
		Rows(goqu.Record{colVersion: version})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(circulation.ErrBuildingQueryFailed, toSQLErr)
	}

	if _, _, execErr := cs.executeStatement(ctx, tx, sqlQuery, operationMigrate); execErr != nil {
		return execErr
	}

	return cs.commitTx(ctx, tx)
}

// migrationStatements returns the DDL for one schema version. The copy count
// check backs up the domain invariant at the database level.
func (cs CirculationStore) migrationStatements(version int) (string, error) {
	switch version {
	case 1:
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  author TEXT NOT NULL,
  total_copies INTEGER NOT NULL,
  available_copies INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (available_copies >= 0 AND available_copies <= total_copies)
);

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  role TEXT NOT NULL,
  active BOOLEAN NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  book_id TEXT NOT NULL REFERENCES %[1]s (id),
  patron_id TEXT NOT NULL REFERENCES %[2]s (id),
  loaned_on TIMESTAMPTZ NOT NULL,
  due_on TIMESTAMPTZ NOT NULL,
  returned_on TIMESTAMPTZ,
  renewals INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  fine_cents BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_%[3]s_patron ON %[3]s (patron_id);
CREATE INDEX IF NOT EXISTS idx_%[3]s_status_due ON %[3]s (status, due_on);
`, cs.table(tableBooks), cs.table(tablePatrons), cs.table(tableLoans)), nil
	case 2:
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  sequence_number BIGSERIAL PRIMARY KEY,
  event_type TEXT NOT NULL,
  loan_id TEXT NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_loan ON %[1]s (loan_id);
`, cs.table(tableLoanEvents)), nil
	default:
		return "", fmt.Errorf("unknown migration version: %d", version)
	}
}
