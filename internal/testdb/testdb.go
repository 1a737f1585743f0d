// Package testdb opens an isolated in-memory sqlite mirror for package tests.
package testdb

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	seq      atomic.Int64
	nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// Open migrates a fresh database, installs it as the global handle and restores the
// previous one on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("%s_%d", nonAlnum.ReplaceAllString(t.Name(), "_"), seq.Add(1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name)

	db, err := gorm.Open(sqlite.Open(dsn), config.InitGormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the shared-cache database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.InstallPlugins(db))
	require.NoError(t, models.Migrate(db))

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}
