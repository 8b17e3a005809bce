package table

import (
	"sync"

	"github.com/Compulsed/lineagedb/rowid"
)

// UniqueIndex maps a unique-constrained field's value to the row currently
// holding it. An entry exists iff the currently-visible version at the
// latest committed tx has that value.
type UniqueIndex struct {
	Field   string
	mu      sync.RWMutex
	entries map[interface{}]rowid.ID
}

func NewUniqueIndex(field string) *UniqueIndex {
	return &UniqueIndex{
		Field:   field,
		entries: map[interface{}]rowid.ID{},
	}
}

// Lookup returns the row currently bound to value, if any.
func (u *UniqueIndex) Lookup(value interface{}) (rowid.ID, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.entries[value]
	return id, ok
}

func (u *UniqueIndex) set(value interface{}, id rowid.ID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries[value] = id
}

func (u *UniqueIndex) remove(value interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.entries, value)
}
