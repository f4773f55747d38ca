package alert

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists alert state records.
type Repository interface {
	// LoadAll returns every stored record.
	LoadAll(ctx context.Context) ([]Record, error)
	// Save upserts one record.
	Save(ctx context.Context, rec Record) error
}

// SQLiteRepository stores alert state in the alert_states table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new alert state repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or replaces the record for (DeviceID, Code).
func (r *SQLiteRepository) Save(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_states
		   (device_id, code, state, since, last_triggered_at, last_resolved_at, last_value, notified, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, code) DO UPDATE SET
		   state = excluded.state,
		   since = excluded.since,
		   last_triggered_at = excluded.last_triggered_at,
		   last_resolved_at = excluded.last_resolved_at,
		   last_value = excluded.last_value,
		   notified = excluded.notified,
		   updated_at = excluded.updated_at`,
		rec.DeviceID, rec.Code, string(rec.State),
		rec.Since.UTC().Format(time.RFC3339Nano),
		nullableTime(rec.LastTriggered), nullableTime(rec.LastResolved),
		nullableFloat(rec.LastValue), boolToInt(rec.Notified),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving alert state %s/%s: %w", rec.DeviceID, rec.Code, err)
	}
	return nil
}

// LoadAll returns every stored record ordered by device and code.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, code, state, since, last_triggered_at, last_resolved_at, last_value, notified
		 FROM alert_states ORDER BY device_id, code`)
	if err != nil {
		return nil, fmt.Errorf("querying alert states: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                 Record
			state, since        string
			triggered, resolved sql.NullString
			value               sql.NullFloat64
			notified            int
		)
		if err := rows.Scan(&rec.DeviceID, &rec.Code, &state, &since, &triggered, &resolved, &value, &notified); err != nil {
			return nil, fmt.Errorf("scanning alert state: %w", err)
		}
		rec.State = State(state)
		rec.Notified = notified != 0
		if rec.Since, err = time.Parse(time.RFC3339Nano, since); err != nil {
			return nil, fmt.Errorf("parsing alert state timestamp %q: %w", since, err)
		}
		if rec.LastTriggered, err = parseNullableTime(triggered); err != nil {
			return nil, err
		}
		if rec.LastResolved, err = parseNullableTime(resolved); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			rec.LastValue = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert states: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing alert state timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
