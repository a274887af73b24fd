package tests

import (
	"github.com/google/uuid"
)

// Sqlite3URL returns the URI of a fresh shared in-memory SQLite database.
// The database lives as long as at least one connection to it stays open.
func Sqlite3URL() string {
	return "file::" + uuid.NewString() + ":?mode=memory&cache=shared&_foreign_keys=on"
}
