package testutil

import (
	"fmt"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
)

const memoryDataSourceFormat = "file:flowcheck-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)"

// MemoryDatabaseConfig names a private in-memory sqlite database for one test.
func MemoryDatabaseConfig(testingT *testing.T) storage.Config {
	testingT.Helper()
	return storage.Config{
		DriverName:     storage.DriverNameSQLite,
		DataSourceName: fmt.Sprintf(memoryDataSourceFormat, storage.NewID()),
	}
}

// OpenMemoryDatabase opens and migrates a fresh in-memory database. It is closed when the
// test ends and gorm errors go to the test log.
func OpenMemoryDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()
	database, openErr := storage.OpenDatabase(MemoryDatabaseConfig(testingT))
	if openErr != nil {
		testingT.Fatalf("open memory database: %v", openErr)
	}
	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		testingT.Fatalf("memory database handle: %v", sqlErr)
	}
	testingT.Cleanup(func() {
		_ = sqlDatabase.Close()
	})

	database = WithTestLogger(testingT, database)
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		testingT.Fatalf("migrate memory database: %v", migrateErr)
	}
	return database
}

// WithTestLogger routes gorm errors to testingT, skipping record-not-found.
func WithTestLogger(testingT *testing.T, database *gorm.DB) *gorm.DB {
	testingT.Helper()
	gormLogger := logger.New(testLogWriter{testingT: testingT}, logger.Config{
		IgnoreRecordNotFoundError: true,
		LogLevel:                  logger.Error,
	})
	return database.Session(&gorm.Session{Logger: gormLogger})
}

type testLogWriter struct {
	testingT *testing.T
}

func (writer testLogWriter) Printf(format string, arguments ...interface{}) {
	writer.testingT.Logf(format, arguments...)
}
