package repository

import (
	"testing"

	"github.com/nimasrn/cod-ledger/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Entities lists every table owned by this package, in migration order.
func Entities() []interface{} {
	return []interface{}{
		&PaymentTransactionEntity{},
		&CashReconciliationEntity{},
		&AuditEventEntity{},
	}
}

// NewTestDB opens a private in-memory sqlite database with the schema applied. A single
// connection is kept so every goroutine of a test sees the same memory database.
func NewTestDB(t testing.TB) *pg.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.New(db, db)
}

func setupTestDB(t *testing.T) *pg.DB {
	return NewTestDB(t)
}
