// Package migrations embeds the SQL schema and seed files applied by
// internal/migrate.
package migrations

import "embed"

// Schema holds NNNN_name.up.sql / NNNN_name.down.sql pairs.
//
//go:embed schema/*.sql
var Schema embed.FS

// Seeds holds development seed data.
//
//go:embed seeds/*.sql
var Seeds embed.FS
