package repository

import (
	"testing"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.LinkedCredential{},
		&domain.PendingAccountLink{},
		&domain.Session{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
