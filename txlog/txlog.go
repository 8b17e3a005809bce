// Package txlog implements the transaction log: the authoritative, ordered
// record of every committed transaction's actions, with an in-memory tail
// mirroring the durable suffix held by a persistence.Backend.
package txlog

import (
	"encoding/json"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/persistence"
	"github.com/Compulsed/lineagedb/rowid"
	"github.com/Compulsed/lineagedb/table"
)

// ActionKind names a committed action for WAL serialization. Read-only
// actions never produce an ActionRecord since they have no durable effect.
type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// ActionRecord is the durable form of one staged write, sufficient to
// reconstruct the resulting Version during replay without re-running
// uniqueness checks or JSON Merge Patch.
type ActionRecord struct {
	Kind    ActionKind    `json:"kind"`
	RowId   rowid.ID      `json:"row_id"`
	Value   []byte        `json:"value,omitempty"`
	BeginTx table.TxId    `json:"begin_tx"`
}

// Entry is one committed transaction: the tx id it was assigned and the
// ordered list of write effects it produced.
type Entry struct {
	Tx      table.TxId     `json:"tx"`
	Actions []ActionRecord `json:"actions"`
}

// Log pairs an in-memory tail of recent entries with the durable suffix
// held by a persistence.Backend, so recently committed transactions can be
// inspected without a round trip through the backend.
type Log struct {
	backend persistence.Backend
	tail    []*Entry
}

func New(backend persistence.Backend) *Log {
	return &Log{backend: backend}
}

// Append durably writes entry via the backend (blocking until fsync/ack)
// and only then records it in the in-memory tail, so a crash mid-append
// never leaves the tail ahead of durable state.
func (l *Log) Append(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return &errs.InternalInvariant{Reason: "txlog: cannot encode entry: " + err.Error()}
	}
	if err := l.backend.AppendWAL(data); err != nil {
		return err
	}
	l.tail = append(l.tail, entry)
	return nil
}

// TruncateBefore drops every tail entry with Tx <= upTo and truncates the
// backend's WAL, called once a snapshot covering up to upTo has been
// durably written.
func (l *Log) TruncateBefore(upTo table.TxId) error {
	kept := l.tail[:0]
	for _, e := range l.tail {
		if e.Tx > upTo {
			kept = append(kept, e)
		}
	}
	l.tail = kept
	return l.backend.TruncateWAL()
}

// Replay feeds every durable entry, in commit order, to consumer. Used at
// startup after a snapshot has been restored, to bring the table forward
// to the latest committed transaction.
func (l *Log) Replay(consumer func(*Entry) error) error {
	return l.backend.ReplayWAL(func(seq int, data []byte) error {
		entry := &Entry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return &errs.Corruption{Reason: "txlog: cannot decode wal entry"}
		}
		l.tail = append(l.tail, entry)
		return consumer(entry)
	})
}

// Tail returns every entry currently mirrored in memory, oldest first.
func (l *Log) Tail() []*Entry {
	out := make([]*Entry, len(l.tail))
	copy(out, l.tail)
	return out
}
