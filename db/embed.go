// Package db embeds the SQL schema for persisted orders.
package db

import _ "embed"

// Schema creates the orders, order_items and order_lines tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
