// Package db embeds the SQL migrations applied at startup.
package db

import "embed"

// Migrations holds the numbered DDL files, applied in lexical order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
