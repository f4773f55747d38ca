// Package database opens the SQLite file that holds fieldcore's durable
// state: the alert state machine (alert_states) and the audit trail
// (audit_logs).
//
// The schema lives in the top-level migrations package, which embeds its
// .sql files and registers them here with RegisterSchema. Each version has an
// .up.sql and usually a .down.sql, applied in version order inside a
// transaction and recorded in schema_migrations. Migrate refuses a database
// that carries a version this binary does not know (ErrSchemaAhead).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
