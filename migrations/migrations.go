// Package migrations ships the schema used by the migrate command and the
// integration tests. The export service itself never changes the schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Init is the only schema file.
const Init = "0001_init.sql"
