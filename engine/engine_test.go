package engine

import (
	"testing"

	. "github.com/fulldump/biff"

	"github.com/Compulsed/lineagedb/persistence"
	"github.com/Compulsed/lineagedb/table"
)

func newTestEngine(t *testing.T) *Engine {
	e, err := New(Config{
		UniqueFields: []string{"email"},
		Backend:      persistence.NewFileBackend(t.TempDir()),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestSubmitAddThenGet(t *testing.T) {
	e := newTestEngine(t)

	resp := e.Submit(Transaction{Actions: []table.Action{
		table.Add{Value: map[string]interface{}{"email": "a@x"}},
	}})
	AssertNil(resp.Err)
	AssertEqual(e.CommittedTx(), table.TxId(1))

	id := resp.Results[0].Row.Id
	getResp := e.Submit(Transaction{Actions: []table.Action{table.Get{Id: id}}})
	AssertNil(getResp.Err)
	AssertEqual(getResp.Results[0].Row.Value["email"], "a@x")
}

func TestUniqueConflictDoesNotAdvanceCommittedTx(t *testing.T) {
	e := newTestEngine(t)

	first := e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "a@x"}}}})
	AssertNil(first.Err)
	AssertEqual(e.CommittedTx(), table.TxId(1))

	second := e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "a@x"}}}})
	AssertNotNil(second.Err)
	AssertEqual(e.CommittedTx(), table.TxId(1))
}

func TestMultiActionTransactionAbortsAtomically(t *testing.T) {
	e := newTestEngine(t)

	resp := e.Submit(Transaction{Actions: []table.Action{
		table.Add{Value: map[string]interface{}{"email": "a@x"}},
		table.Add{Value: map[string]interface{}{"email": "a@x"}},
	}})
	AssertNotNil(resp.Err)
	AssertEqual(e.RowCount(), 0)
	AssertEqual(e.CommittedTx(), table.TxId(0))
}

func TestReadOnlyTransactionDoesNotAdvanceCommittedTx(t *testing.T) {
	e := newTestEngine(t)

	AssertNil(e.Submit(Transaction{Actions: []table.Action{
		table.Add{Value: map[string]interface{}{"email": "a@x"}},
	}}).Err)

	before := e.CommittedTx()
	resp := e.Submit(Transaction{Actions: []table.Action{table.ListLatestVersions{}}})
	AssertNil(resp.Err)
	AssertEqual(e.CommittedTx(), before)
}

func TestSnapshotAndRestoreRecoversState(t *testing.T) {
	dir := t.TempDir()

	e, err := New(Config{UniqueFields: []string{"email"}, Backend: persistence.NewFileBackend(dir)})
	AssertNil(err)
	AssertNil(e.Start())

	AssertNil(e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "a@x"}}}}).Err)
	AssertNil(e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "b@x"}}}}).Err)
	AssertNil(e.Snapshot())
	e.Stop()

	restored, err := New(Config{UniqueFields: []string{"email"}, Backend: persistence.NewFileBackend(dir)})
	AssertNil(err)
	AssertNil(restored.Start())
	defer restored.Stop()

	AssertEqual(restored.CommittedTx(), table.TxId(2))
	AssertEqual(restored.RowCount(), 2)
}

func TestRestoreRecoversStateFromWALAlone(t *testing.T) {
	dir := t.TempDir()

	e, err := New(Config{UniqueFields: []string{"email"}, Backend: persistence.NewFileBackend(dir)})
	AssertNil(err)
	AssertNil(e.Start())

	AssertNil(e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "a@x"}}}}).Err)
	AssertNil(e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "b@x"}}}}).Err)
	resp := e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "c@x"}}}})
	AssertNil(resp.Err)
	id := resp.Results[0].Row.Id

	// No Snapshot() call: restart must recover purely by replaying the WAL.
	e.Stop()

	restored, err := New(Config{UniqueFields: []string{"email"}, Backend: persistence.NewFileBackend(dir)})
	AssertNil(err)
	AssertNil(restored.Start())
	defer restored.Stop()

	AssertEqual(restored.CommittedTx(), table.TxId(3))
	AssertEqual(restored.RowCount(), 3)

	getResp := restored.Submit(Transaction{Actions: []table.Action{table.Get{Id: id}}})
	AssertNil(getResp.Err)
	AssertEqual(getResp.Results[0].Row.Value["email"], "c@x")
}

func TestResetClearsTableAndCommittedTx(t *testing.T) {
	e := newTestEngine(t)
	AssertNil(e.Submit(Transaction{Actions: []table.Action{table.Add{Value: map[string]interface{}{"email": "a@x"}}}}).Err)

	AssertNil(e.Reset())
	AssertEqual(e.CommittedTx(), table.TxId(0))
	AssertEqual(e.RowCount(), 0)
}
