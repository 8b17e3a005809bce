package engine

import (
	"os"
	"sync/atomic"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/table"
	"github.com/Compulsed/lineagedb/txlog"
)

// writerLoop is the sole task allowed to mutate the table. It drains the
// write queue until closed is signaled, then returns once every in-flight
// request already in the channel has been handled.
func (e *Engine) writerLoop() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.requests:
			e.handleWriteSafely(req)
		case <-e.closed:
			for {
				select {
				case req := <-e.requests:
					e.handleWriteSafely(req)
				default:
					return
				}
			}
		}
	}
}

// handleWriteSafely runs handleWrite and turns any panic escaping it into a
// logged fatal exit. handleWrite only panics on an InternalInvariant, which
// by construction should be unreachable; if one is ever hit, letting the
// writer goroutine keep running with a table in an unknown state is worse
// than crashing, so this brings the whole process down deliberately rather
// than leaving a corrupted engine half-alive behind a bare goroutine crash.
func (e *Engine) handleWriteSafely(req *request) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("fatal error in writer goroutine: %v", r)
			os.Exit(1)
		}
	}()
	e.handleWrite(req)
}

// handleWrite runs one transaction through the full write pipeline: assign
// a tx id, stage every action against the current table, log the changes,
// install them, publish the new committed tx, then reply.
func (e *Engine) handleWrite(req *request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := table.TxId(atomic.LoadInt64(&e.committedTx)) + 1
	tbl := e.tbl.Load()
	staging := tbl.NewStaging(tx)

	results := make([]table.ActionResult, 0, len(req.tx.Actions))
	for _, action := range req.tx.Actions {
		result, err := tbl.Stage(staging, action)
		if err != nil {
			// Validation or in-transaction uniqueness failure: discard
			// staging, do not advance committedTx, do not log.
			req.reply <- Response{Err: err}
			return
		}
		results = append(results, result)
	}

	changes := staging.Changes()
	if len(changes) > 0 {
		entry := &txlog.Entry{Tx: tx, Actions: make([]txlog.ActionRecord, 0, len(changes))}
		for _, c := range changes {
			kind := txlog.ActionUpdate
			if c.IsNewRow {
				kind = txlog.ActionAdd
			} else if c.Kind == table.Tombstone {
				kind = txlog.ActionDelete
			}
			entry.Actions = append(entry.Actions, txlog.ActionRecord{
				Kind:    kind,
				RowId:   c.Id,
				Value:   c.Value,
				BeginTx: c.BeginTx,
			})
		}

		if err := e.log.Append(entry); err != nil {
			req.reply <- Response{Err: err}
			return
		}
	}

	if err := tbl.Install(staging); err != nil {
		// Install is documented infallible by construction; a failure here
		// is a programming bug, not a caller-facing error.
		panic(&errs.InternalInvariant{Reason: "engine: install failed after successful stage: " + err.Error()})
	}

	atomic.StoreInt64(&e.committedTx, int64(tx))

	if len(changes) > 0 {
		e.writesSinceSnapshot++
		if e.cfg.SnapshotEvery > 0 && e.writesSinceSnapshot >= e.cfg.SnapshotEvery {
			if err := e.snapshotLocked(); err != nil {
				logger.Printf("automatic snapshot at tx %d failed: %v", tx, err)
				// A failed automatic snapshot is not fatal: the engine keeps
				// serving from memory and the WAL still has everything since
				// the last successful snapshot. Reset the counter so the
				// next threshold crossing tries again rather than retrying
				// on every single write until it succeeds.
				e.writesSinceSnapshot = 0
			}
		}
	}

	req.reply <- Response{Results: results}
}
