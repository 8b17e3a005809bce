// Package rowid allocates the stable 128-bit identifiers assigned to rows
// at creation time. Ids are never reused.
package rowid

import "github.com/google/uuid"

// ID is a RowId: a stable identifier assigned once and never reused.
type ID string

// New allocates a fresh id.
func New() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string {
	return string(id)
}
