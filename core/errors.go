package core

import (
	"errors"
	"strings"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrDuplicateFilename = errors.New("file already exists in this room")
	ErrLastFile          = errors.New("cannot delete the last file in the room")
)

// ValidationError reports request fields that were required but missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing " + strings.Join(e.Fields, " or ")
}

// Require returns a *ValidationError naming every empty value in fields,
// or nil when all of them are set. Keys are reported in argument order.
func Require(fields ...string) error {
	var missing []string
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			missing = append(missing, fields[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing}
}
