package postgresengine_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // postgres driver
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/postgresengine"
	"github.com/openshelf/circulation-go/testutil/postgresengine/config"
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper"                 //nolint:revive
	. "github.com/openshelf/circulation-go/testutil/postgresengine/helper/postgreswrapper" //nolint:revive
)

func Test_FactoryFunctions_ShouldPanic_WithUnsupportedAdapterType(t *testing.T) {
	// Save the original env var
	originalAdapterType := os.Getenv("ADAPTER_TYPE")
	defer func() {
		if originalAdapterType == "" {
			err := os.Unsetenv("ADAPTER_TYPE")
			assert.NoError(t, err)
		} else {
			err := os.Setenv("ADAPTER_TYPE", originalAdapterType)
			assert.NoError(t, err)
		}
	}()

	// Set an unsupported adapter type
	err := os.Setenv("ADAPTER_TYPE", "unsupported")
	assert.NoError(t, err)

	assert.Panics(t, func() {
		createErr := TryCreateStore(t, postgresengine.WithTablePrefix("tenant_"))
		assert.NoError(t, createErr)
	})
}

func Test_FactoryFunctions_ShouldFail_WithNilDatabaseConnection(t *testing.T) {
	testCases := []struct {
		name        string
		factoryFunc func() (postgresengine.CirculationStore, error)
	}{
		{
			name: "NewCirculationStoreFromPGXPool with nil",
			factoryFunc: func() (postgresengine.CirculationStore, error) {
				return postgresengine.NewCirculationStoreFromPGXPool(nil)
			},
		},
		{
			name: "NewCirculationStoreFromPGXPoolWithReplica with nil",
			factoryFunc: func() (postgresengine.CirculationStore, error) {
				return postgresengine.NewCirculationStoreFromPGXPoolWithReplica(nil, nil)
			},
		},
		{
			name: "NewCirculationStoreFromSQLDB with nil",
			factoryFunc: func() (postgresengine.CirculationStore, error) {
				return postgresengine.NewCirculationStoreFromSQLDB(nil)
			},
		},
		{
			name: "NewCirculationStoreFromSQLX with nil",
			factoryFunc: func() (postgresengine.CirculationStore, error) {
				return postgresengine.NewCirculationStoreFromSQLX(nil)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := tc.factoryFunc()

			// assert
			assert.ErrorContains(t, err, circulation.ErrNilDatabaseConnection.Error())
		})
	}
}

func Test_FactoryFunctions_ShouldFail_WithEmptyTablePrefix(t *testing.T) {
	testCases := []struct {
		name        string
		factoryFunc func(t *testing.T) (postgresengine.CirculationStore, error)
	}{
		{
			name: "NewCirculationStoreFromPGXPool with empty table prefix",
			factoryFunc: func(_ *testing.T) (postgresengine.CirculationStore, error) {
				connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolSingleConfig())
				assert.NoError(t, err, "error connecting to DB pool in test setup")
				defer connPool.Close()

				return postgresengine.NewCirculationStoreFromPGXPool(connPool, postgresengine.WithTablePrefix(""))
			},
		},
		{
			name: "NewCirculationStoreFromSQLDB with empty table prefix",
			factoryFunc: func(_ *testing.T) (postgresengine.CirculationStore, error) {
				db := config.PostgresSQLDBSingleConfig()
				defer func() { _ = db.Close() }()

				return postgresengine.NewCirculationStoreFromSQLDB(db, postgresengine.WithTablePrefix(""))
			},
		},
		{
			name: "NewCirculationStoreFromSQLX with empty table prefix",
			factoryFunc: func(_ *testing.T) (postgresengine.CirculationStore, error) {
				db := config.PostgresSQLXSingleConfig()
				defer func() { _ = db.Close() }()

				return postgresengine.NewCirculationStoreFromSQLX(db, postgresengine.WithTablePrefix(""))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := tc.factoryFunc(t)

			// assert
			assert.ErrorContains(t, err, circulation.ErrEmptyTablePrefix.Error())
		})
	}
}

func Test_FactoryFunctions_ShouldFail_WithInvalidPolicy(t *testing.T) {
	// arrange
	brokenPolicy := circulation.Policy{
		LoanPeriodDays:    0,
		RenewalPeriodDays: 14,
		MaxRenewals:       2,
		DailyFineCents:    50,
	}

	// act
	err := TryCreateStore(t, postgresengine.WithPolicy(brokenPolicy))

	// assert
	assert.ErrorContains(t, err, circulation.ErrInvalidPolicy.Error())
}

func Test_FactoryFunctions_ShouldApplyTheConfiguredPolicy(t *testing.T) {
	// setup
	customPolicy := circulation.Policy{
		LoanPeriodDays:    7,
		RenewalPeriodDays: 7,
		MaxRenewals:       1,
		DailyFineCents:    25,
	}

	wrapper := CreateWrapperWithTestConfig(t, postgresengine.WithPolicy(customPolicy))
	defer wrapper.Close()
	cs := wrapper.GetStore()

	// assert
	assert.Equal(t, customPolicy, cs.Policy())
}

func Test_FactoryFunctions_CirculationStore_WithTablePrefix_ShouldWorkCorrectly(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateWrapperWithTestConfig(t, postgresengine.WithTablePrefix("tenant_"))
	defer wrapper.Close()
	cs := wrapper.GetStore()

	loanDay := Day(2024, time.January, 2)

	// arrange
	book := GivenBookInCatalog(t, ctxWithTimeout, cs, 3, loanDay)

	// act
	fetched, err := cs.GetBook(ctxWithTimeout, book.ID)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, book.ID, fetched.ID)
	assert.Equal(t, 3, fetched.TotalCopies)
	assert.Equal(t, 3, fetched.AvailableCopies)
}
