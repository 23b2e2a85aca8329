// Package migrations embeds the SQL schema files into the binary so
// the service migrates itself at startup without shipping loose files.
package migrations

import (
	"embed"

	"github.com/openctl/ctrlgraph/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
