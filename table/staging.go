package table

import "github.com/Compulsed/lineagedb/rowid"

// staged is the tentative outcome of one row's participation in an
// in-flight transaction. Nothing here is visible outside the staging
// buffer until Table.Install runs.
type staged struct {
	id         rowid.ID
	row        *Row // nil when isNewRow
	isNewRow   bool
	newVersion *Version
}

// Staging is the per-transaction scratch buffer: each action validates and
// stages against the latest committed state plus whatever this same
// transaction has already staged, and nothing touches the live table until
// Table.Install runs. Aborting a transaction is just dropping the Staging
// reference; nothing outside this package ever observes a half-applied one.
type Staging struct {
	tx       TxId
	order    []rowid.ID
	changes  map[rowid.ID]*staged
	reserved map[string]map[interface{}]rowid.ID // field -> value -> tentative owner
	freed    map[string]map[interface{}]bool     // field -> value -> vacated within this tx
}

func newStaging(tx TxId) *Staging {
	return &Staging{
		tx:       tx,
		changes:  map[rowid.ID]*staged{},
		reserved: map[string]map[interface{}]rowid.ID{},
		freed:    map[string]map[interface{}]bool{},
	}
}

func (s *Staging) put(id rowid.ID, sc *staged) {
	if _, exists := s.changes[id]; !exists {
		s.order = append(s.order, id)
	}
	s.changes[id] = sc
}

func (s *Staging) reserve(field string, value interface{}, owner rowid.ID) {
	m, ok := s.reserved[field]
	if !ok {
		m = map[interface{}]rowid.ID{}
		s.reserved[field] = m
	}
	m[value] = owner
}

func (s *Staging) free(field string, value interface{}) {
	m, ok := s.freed[field]
	if !ok {
		m = map[interface{}]bool{}
		s.freed[field] = m
	}
	m[value] = true
}

func (s *Staging) reservedOwner(field string, value interface{}) (rowid.ID, bool) {
	m, ok := s.reserved[field]
	if !ok {
		return "", false
	}
	id, ok := m[value]
	return id, ok
}

func (s *Staging) isFreed(field string, value interface{}) bool {
	m, ok := s.freed[field]
	if !ok {
		return false
	}
	return m[value]
}

// StagedChange is a durable-log-friendly view of one row's staged effect,
// exposed so a caller outside this package (the write coordinator) can
// build a WAL entry without reaching into unexported staging state.
type StagedChange struct {
	Id       rowid.ID
	IsNewRow bool
	Value    []byte
	Kind     Kind
	BeginTx  TxId
}

// Changes returns every row touched by this transaction, in staging order.
func (s *Staging) Changes() []StagedChange {
	out := make([]StagedChange, 0, len(s.order))
	for _, id := range s.order {
		sc := s.changes[id]
		out = append(out, StagedChange{
			Id:       sc.id,
			IsNewRow: sc.isNewRow,
			Value:    sc.newVersion.Value,
			Kind:     sc.newVersion.Kind,
			BeginTx:  sc.newVersion.BeginTx,
		})
	}
	return out
}

// Tx returns the transaction id this buffer was opened for.
func (s *Staging) Tx() TxId {
	return s.tx
}
