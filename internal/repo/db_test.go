package repo

import (
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTranslateError(t *testing.T) {
	if translateError(nil) != nil {
		t.Fatal("nil should pass through")
	}
	if got := translateError(gorm.ErrRecordNotFound); !errors.Is(got, domain.ErrNotFound) {
		t.Fatalf("record-not-found: got %v", got)
	}
	if got := translateError(gorm.ErrDuplicatedKey); !errors.Is(got, domain.ErrDuplicateKey) {
		t.Fatalf("duplicated-key: got %v", got)
	}
	if got := translateError(errors.New("UNIQUE constraint failed: webhook_events.idempotency_key")); !errors.Is(got, domain.ErrDuplicateKey) {
		t.Fatalf("text unique violation: got %v", got)
	}
	if got := translateError(errors.New("constraint failed: UNIQUE constraint failed: x (2067)")); !errors.Is(got, domain.ErrDuplicateKey) {
		t.Fatalf("glebarez unique violation: got %v", got)
	}
	other := errors.New("disk I/O error")
	if got := translateError(other); got != other {
		t.Fatalf("unrelated error should pass through, got %v", got)
	}
}
