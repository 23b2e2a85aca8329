// Package database manages the SQLite connection backing the audit
// trail, including embedded schema migrations.
//
// SQLite is opened with a single connection since it supports one
// writer; WAL mode keeps reads concurrent with writes. Migrations are
// compiled into the binary (see the migrations package) and applied in
// version order, each in its own transaction.
package database
