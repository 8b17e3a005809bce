package engine

import (
	"encoding/json"
	"sync/atomic"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/rowid"
	"github.com/Compulsed/lineagedb/table"
	"github.com/Compulsed/lineagedb/txlog"
)

// wireSnapshot is the durable, whole-state blob written by WriteSnapshot
// and read back by restore. The backend additionally persists tx
// alongside it in a header that restore cross-checks against
// CommittedTx before trusting the body.
type wireSnapshot struct {
	CommittedTx table.TxId               `json:"committed_tx"`
	Rows        []table.RowChainSnapshot `json:"rows"`
}

// restore loads the most recent snapshot, if any, then replays WAL entries
// strictly after the snapshot's tx by applying each directly to the table,
// without re-logging them.
func (e *Engine) restore() error {
	snapshotTx := table.TxId(0)
	tbl := e.tbl.Load()

	data, tx, ok, err := e.backend.ReadSnapshot()
	if err != nil {
		return err
	}
	if ok {
		snap := &wireSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return &errs.Corruption{Reason: "engine: cannot decode snapshot: " + err.Error()}
		}
		if snap.CommittedTx != table.TxId(tx) {
			return &errs.Corruption{Reason: "engine: snapshot header tx_id disagrees with body's committed_tx"}
		}
		for _, rc := range snap.Rows {
			for _, v := range rc.Versions {
				tbl.Restore(rc.Id, v)
			}
		}
		snapshotTx = snap.CommittedTx
		atomic.StoreInt64(&e.committedTx, int64(snapshotTx))
	}

	highest := snapshotTx
	err = e.log.Replay(func(entry *txlog.Entry) error {
		if entry.Tx <= snapshotTx {
			return nil
		}
		for _, a := range entry.Actions {
			v := &table.Version{BeginTx: a.BeginTx, EndTx: table.Infinity, Kind: table.Live, Value: a.Value}
			if a.Kind == txlog.ActionDelete {
				v.Kind = table.Tombstone
				v.Value = nil
			}
			tbl.Restore(a.RowId, v)
		}
		if entry.Tx > highest {
			highest = entry.Tx
		}
		return nil
	})
	if err != nil {
		return err
	}
	atomic.StoreInt64(&e.committedTx, int64(highest))
	return nil
}

// Snapshot implements the operator snapshot() command: quiesce the writer
// by taking the same lock handleWrite holds, serialize table + committed
// tx, persist, then truncate the WAL up to that point.
func (e *Engine) Snapshot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() error {
	tx := table.TxId(atomic.LoadInt64(&e.committedTx))
	snap := wireSnapshot{CommittedTx: tx, Rows: e.tbl.Load().Snapshot()}
	data, err := json.Marshal(snap)
	if err != nil {
		return &errs.InternalInvariant{Reason: "engine: cannot encode snapshot: " + err.Error()}
	}
	if err := e.backend.WriteSnapshot(data, int64(tx)); err != nil {
		return err
	}
	if err := e.log.TruncateBefore(tx); err != nil {
		return err
	}
	e.writesSinceSnapshot = 0
	return nil
}

// TrimRow discards a single row's version-chain history that closed
// before tx. The operator is responsible for choosing a tx no newer than
// the oldest live reader snapshot; the engine does not track individual
// reader snapshots, so trimming too aggressively can make a temporal read
// return nothing for a version an in-flight reader still expects to see.
func (e *Engine) TrimRow(id rowid.ID, tx table.TxId) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tx > table.TxId(atomic.LoadInt64(&e.committedTx)) {
		return 0, &errs.ValidationError{Reason: "trim: tx is ahead of the latest committed tx"}
	}
	removed, ok := e.tbl.Load().TrimRowBefore(id, tx)
	if !ok {
		return 0, &errs.ValidationError{Reason: "trim: no row with that id"}
	}
	return removed, nil
}

// Reset implements the operator reset() command: truncate the WAL, drop
// any snapshot, and start from an empty table. Intended for tests.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.backend.Reset(); err != nil {
		return err
	}
	e.tbl.Store(table.New(e.cfg.UniqueFields, e.cfg.DecodeCacheSize))
	atomic.StoreInt64(&e.committedTx, 0)
	e.writesSinceSnapshot = 0
	return nil
}
