package db

import "embed"

// EmbedMigrations contains the job and manifest schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
