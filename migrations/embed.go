// Package migrations embeds the SQL schema for alert state and the audit
// trail into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/fieldbus-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterSchema(migrationsFS, ".")
}
