// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema contains the DDL for the catalog, upsell bundle, order and API key
// tables. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
