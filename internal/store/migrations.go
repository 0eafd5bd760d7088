// Copyright 2025 James Ross
package store

import "embed"

// MigrationsFS embeds the schema migrations golang-migrate applies against
// a fresh database, for cmd/hook0-migrate.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
