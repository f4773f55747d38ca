package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"time"
)

// ErrSchemaAhead is returned when the database has a migration applied that
// this binary does not ship, i.e. it was migrated by a newer build.
var ErrSchemaAhead = errors.New("database: schema is newer than this binary")

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Schema locates the migration files.
type Schema struct {
	FS  fs.FS
	Dir string
}

// registered is set by the migrations package at init.
var registered Schema

// RegisterSchema sets the migrations Migrate applies. The top-level
// migrations package calls it from init, so a blank import is enough.
func RegisterSchema(fsys fs.FS, dir string) {
	registered = Schema{FS: fsys, Dir: dir}
}

// Migration is one schema version.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus compares the database against the registered schema.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []Migration
	// Unknown lists applied versions the registered schema does not contain.
	Unknown []string
}

// Current returns the newest applied version, or "" for an empty database.
func (s MigrationStatus) Current() string {
	if len(s.Applied) == 0 {
		return ""
	}
	return s.Applied[len(s.Applied)-1].Version
}

// Migrate applies every pending migration in version order, each in its own
// transaction. A failure leaves earlier versions committed; running Migrate
// again resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	st, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(st.Unknown) > 0 {
		return fmt.Errorf("%w: unknown versions %v", ErrSchemaAhead, st.Unknown)
	}
	for _, m := range st.Pending {
		if err := db.step(ctx, m.Up, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. Intended for development.
func (db *DB) MigrateDown(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	st, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	current := st.Current()
	if current == "" {
		return nil
	}

	all, err := registered.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == current })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSchemaAhead, current)
	}
	if all[i].Down == "" {
		return fmt.Errorf("migration %s has no down file", current)
	}
	if err := db.step(ctx, all[i].Down, "DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return fmt.Errorf("reverting migration %s: %w", current, err)
	}
	return nil
}

// MigrationStatus reports applied, pending and unknown versions.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	var st MigrationStatus
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return st, err
	}
	all, err := registered.load()
	if err != nil {
		return st, err
	}

	st.Applied = applied
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			st.Pending = append(st.Pending, m)
		}
		delete(done, m.Version)
	}
	for v := range done {
		st.Unknown = append(st.Unknown, v)
	}
	slices.Sort(st.Unknown)
	return st, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a  AppliedMigration
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		out = append(out, a)
	}
	return out, rows.Err()
}

// step runs a schema script and its bookkeeping statement in one transaction.
func (db *DB) step(ctx context.Context, script, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("updating schema_migrations: %w", err)
	}
	return tx.Commit()
}

// load reads and pairs the migration files, ordered by version. Files that
// do not match the naming scheme are ignored. A down file without an up file
// or two files for the same version and direction is an error.
func (s Schema) load() ([]Migration, error) {
	if s.FS == nil {
		return nil, nil
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(s.FS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts := migrationFile.FindStringSubmatch(e.Name())
		if parts == nil {
			continue
		}
		version, name, dirn := parts[1], parts[2], parts[3]

		body, err := fs.ReadFile(s.FS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		target := &m.Up
		if dirn == "down" {
			target = &m.Down
		}
		if *target != "" || m.Name != name {
			return nil, fmt.Errorf("duplicate migration version %s", version)
		}
		*target = string(body)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
