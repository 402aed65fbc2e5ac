//go:build cgo

package sqlite

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// CGOEnabled reports whether the store runs on the cgo go-sqlite3 driver.
const CGOEnabled = true

const driverName = "sqlite3"

// withPragmas applies the connection settings to every connection of the pool.
func withPragmas(dataSourceName string) string {
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	return dataSourceName + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
