// Package store holds the SQL for every table. Functions take a db.Querier so
// callers decide whether they run standalone or inside a transaction. Getters
// return nil, nil when the row does not exist.
package store

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// NewID returns a new time-ordered entity id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint
// failure.
func IsUniqueViolation(err error) bool {
	code, msg, ok := constraintError(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return strings.Contains(msg, "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	code, msg, ok := constraintError(err)
	if !ok {
		return false
	}
	return code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY constraint failed")
}

// constraintError unpacks a SQLite constraint error. The primary result code
// is the low byte of the extended code.
func constraintError(err error) (int, string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, "", false
	}
	if se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return 0, "", false
	}
	return se.Code(), se.Error(), true
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
