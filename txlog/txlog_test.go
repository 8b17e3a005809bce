package txlog

import (
	"testing"

	. "github.com/fulldump/biff"

	"github.com/Compulsed/lineagedb/persistence"
	"github.com/Compulsed/lineagedb/rowid"
	"github.com/Compulsed/lineagedb/table"
)

func newTestLog(t *testing.T) *Log {
	backend := persistence.NewFileBackend(t.TempDir())
	if err := backend.Init(); err != nil {
		t.Fatal(err)
	}
	return New(backend)
}

func TestAppendAndReplayPreservesOrder(t *testing.T) {
	l := newTestLog(t)

	AssertNil(l.Append(&Entry{Tx: 1, Actions: []ActionRecord{{Kind: ActionAdd, RowId: rowid.New(), Value: []byte(`{"a":1}`), BeginTx: 1}}}))
	AssertNil(l.Append(&Entry{Tx: 2, Actions: []ActionRecord{{Kind: ActionUpdate, RowId: rowid.New(), Value: []byte(`{"a":2}`), BeginTx: 2}}}))

	var seen []table.TxId
	err := l.Replay(func(e *Entry) error {
		seen = append(seen, e.Tx)
		return nil
	})
	AssertNil(err)
	AssertEqual(seen, []table.TxId{1, 2})
}

func TestTruncateBeforeDropsOldTailEntries(t *testing.T) {
	l := newTestLog(t)

	AssertNil(l.Append(&Entry{Tx: 1}))
	AssertNil(l.Append(&Entry{Tx: 2}))
	AssertNil(l.Append(&Entry{Tx: 3}))

	AssertNil(l.TruncateBefore(2))

	tail := l.Tail()
	AssertEqual(len(tail), 1)
	AssertEqual(tail[0].Tx, table.TxId(3))
}
