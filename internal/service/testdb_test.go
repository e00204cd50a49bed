package service

import (
	"testing"

	"github.com/gatherly-app/gatherly-backend/internal/domain"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type serviceTestEnv struct {
	db      *gorm.DB
	users   repository.UserRepository
	creds   repository.CredentialRepository
	pending repository.PendingLinkRepository
}

func newServiceTestEnv(t *testing.T) *serviceTestEnv {
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
	return &serviceTestEnv{
		db:      db,
		users:   repository.NewUserRepository(db),
		creds:   repository.NewCredentialRepository(db),
		pending: repository.NewPendingLinkRepository(db),
	}
}

func (e *serviceTestEnv) createUser(t *testing.T, email string) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, Name: "Test User"}
	if err := e.users.Create(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *serviceTestEnv) createPassword(t *testing.T, userID uint, password string) {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := e.creds.Create(&domain.LinkedCredential{
		UserID:       userID,
		Kind:         domain.CredentialKindPassword,
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create password credential: %v", err)
	}
}
