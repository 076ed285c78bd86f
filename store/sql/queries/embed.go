// Package queries embeds the schema of the SQL store.
package queries

import (
	"embed"
	"fmt"
)

//go:embed *.sql
var schemaFS embed.FS

// DefaultTablePrefix is the table prefix used in the embedded files.
const DefaultTablePrefix = "restauth_"

// Schema returns the DDL for dialect ("postgres", "mysql" or "sqlite").
func Schema(dialect string) (string, error) {
	b, err := schemaFS.ReadFile(dialect + ".sql")
	if err != nil {
		return "", fmt.Errorf("queries: no schema for dialect %q: %w", dialect, err)
	}
	return string(b), nil
}
