// Package migrations embeds the goose migration files so binaries and
// tests apply the same schema.
package migrations

import "embed"

// FS holds the SQL migrations. Pass it to goose.SetBaseFS and run goose
// with directory "sql".
//
//go:embed sql/*.sql
var FS embed.FS
