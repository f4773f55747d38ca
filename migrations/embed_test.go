package migrations_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/fieldbus-core/internal/infrastructure/database"
	_ "github.com/nerrad567/fieldbus-core/migrations"
)

func TestSchema(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "fieldcore.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"alert_states", "audit_logs"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	st, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(st.Pending) != 0 || st.Current() != "20260301_120100" {
		t.Errorf("status after Migrate = %+v, current %q", st, st.Current())
	}

	// alert_states rejects unknown states.
	_, err = db.ExecContext(ctx,
		`INSERT INTO alert_states (device_id, code, state, since, updated_at)
		 VALUES ('ahu1', 'X', 'BOGUS', '2026-03-02T12:00:00Z', '2026-03-02T12:00:00Z')`)
	if err == nil {
		t.Error("insert with unknown state should violate CHECK constraint")
	}
}
