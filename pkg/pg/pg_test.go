package pg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type captureWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *captureWriter) Printf(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func (w *captureWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

type widget struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func openSQLite(t *testing.T, w *captureWriter) *gorm.DB {
	t.Helper()
	conf := GormConfig()
	conf.Logger = NewGormLogger(w)
	db, err := gorm.Open(sqlite.Open(":memory:"), conf)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&widget{}))
	return db
}

func TestGormConfig_UsesQuietLogger(t *testing.T) {
	assert.NotNil(t, GormConfig().Logger)
}

func TestGormLogger_IgnoresRecordNotFound(t *testing.T) {
	w := &captureWriter{}
	db := openSQLite(t, w)

	var got widget
	err := db.First(&got, 1).Error
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Empty(t, w.Lines())

	err = db.Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	assert.NotEmpty(t, w.Lines())
}

func TestDB_WithinTransaction(t *testing.T) {
	conn := openSQLite(t, &captureWriter{})
	db := New(conn, conn)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, db.Write(ctx).Create(&widget{Name: "rolled back"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.WithinTransaction(ctx, func(ctx context.Context) error {
		// a nested call joins the outer transaction
		return db.WithinTransaction(ctx, func(ctx context.Context) error {
			return db.Write(ctx).Create(&widget{Name: "kept"}).Error
		})
	})
	require.NoError(t, err)

	var names []string
	require.NoError(t, db.Read(ctx).Model(&widget{}).Pluck("name", &names).Error)
	assert.Equal(t, []string{"kept"}, names)
	assert.NoError(t, db.Ping(ctx))
}
