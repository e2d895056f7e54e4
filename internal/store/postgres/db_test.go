package postgres

import (
	"database/sql"
	"testing"
	"time"
)

func TestPoolConfigApply(t *testing.T) {
	// sql.Open does not connect, so the handle is safe to configure without a
	// running database.
	db, err := sql.Open("pgx", "postgres://localhost:5432/clinicdesk")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer db.Close()

	PoolConfig{
		MaxOpenConns:    7,
		MaxIdleConns:    3,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute,
	}.apply(db)

	if got := db.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("MaxOpenConnections = %d, want 7", got)
	}
}

func TestPoolConfigApplyZeroValuesLeaveDefaults(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://localhost:5432/clinicdesk")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer db.Close()

	PoolConfig{}.apply(db)

	// Zero means unlimited for database/sql; the zero-value config must not
	// clamp the pool.
	if got := db.Stats().MaxOpenConnections; got != 0 {
		t.Fatalf("MaxOpenConnections = %d, want driver default 0", got)
	}
}
