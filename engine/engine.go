// Package engine implements the transaction coordinator and request
// manager: a single serial writer goroutine fed by a bounded channel, a
// bounded reader pool for read-only transactions, and the
// WAL-replay-then-serve startup sequence.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/persistence"
	"github.com/Compulsed/lineagedb/table"
	"github.com/Compulsed/lineagedb/txlog"
)

// Transaction is a sequence of actions committed or aborted as one unit:
// later Add, Update, Delete and Get actions in the same transaction observe
// earlier ones' writes. List and ListLatestVersions read only the latest
// committed state and do not see writes staged earlier in the transaction.
type Transaction struct {
	Actions []table.Action
}

// Response is the outcome of a submitted transaction. Err set means the
// whole transaction aborted; Results is populated only on success.
type Response struct {
	Results []table.ActionResult
	Err     error
}

// Config bundles what an Engine needs to open a table over a backend.
type Config struct {
	UniqueFields    []string
	DecodeCacheSize int
	ReaderPoolSize  int
	WriteQueueSize  int
	SnapshotEvery   int // commits between automatic snapshots; 0 disables
	Backend         persistence.Backend
}

// Engine is the coordinator: it owns the table, the durable log, the
// single-writer goroutine, and a bounded pool of reader goroutines.
type Engine struct {
	cfg     Config
	tbl     atomic.Pointer[table.Table] // swapped wholesale by Reset
	log     *txlog.Log
	backend persistence.Backend

	committedTx int64 // atomic, table.TxId

	requests chan *request
	readers  *ants.Pool

	closed chan struct{}
	wg     sync.WaitGroup

	mu                  sync.Mutex // guards snapshot/reset against concurrent writer activity
	writesSinceSnapshot int
}

type request struct {
	tx    Transaction
	reply chan Response
}

// New builds an Engine but does not yet start its writer goroutine; call
// Start to replay durable state and begin serving requests.
func New(cfg Config) (*Engine, error) {
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = 256
	}
	if cfg.ReaderPoolSize <= 0 {
		cfg.ReaderPoolSize = 64
	}

	readers, err := ants.NewPool(cfg.ReaderPoolSize, ants.WithPanicHandler(func(v interface{}) {
		fmt.Println("engine: reader panic:", v)
	}))
	if err != nil {
		return nil, &errs.InternalInvariant{Reason: "engine: cannot start reader pool: " + err.Error()}
	}

	e := &Engine{
		cfg:      cfg,
		backend:  cfg.Backend,
		log:      txlog.New(cfg.Backend),
		requests: make(chan *request, cfg.WriteQueueSize),
		readers:  readers,
		closed:   make(chan struct{}),
	}
	e.tbl.Store(table.New(cfg.UniqueFields, cfg.DecodeCacheSize))
	return e, nil
}

// Start restores durable state (snapshot then WAL replay) and begins the
// writer goroutine.
func (e *Engine) Start() error {
	if err := e.backend.Init(); err != nil {
		return err
	}
	if err := e.restore(); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.writerLoop()
	return nil
}

// Stop drains the write queue and stops accepting new work.
func (e *Engine) Stop() {
	close(e.closed)
	e.wg.Wait()
	e.readers.Release()
}

// Submit routes a transaction: an all-read-only transaction is dispatched
// to the reader pool and never touches the writer queue; anything else is
// serialized through the single writer.
func (e *Engine) Submit(tx Transaction) Response {
	if allReadOnly(tx.Actions) {
		return e.submitRead(tx)
	}

	req := &request{tx: tx, reply: make(chan Response, 1)}
	select {
	case e.requests <- req:
	case <-e.closed:
		return Response{Err: &errs.StorageError{Op: "submit", Err: fmt.Errorf("engine stopped")}}
	}
	return <-req.reply
}

func allReadOnly(actions []table.Action) bool {
	for _, a := range actions {
		if !table.IsReadOnly(a) {
			return false
		}
	}
	return true
}

// submitRead runs a read-only transaction on the bounded reader pool,
// snapshotting the committed tx counter once so every action in the
// transaction sees the same visibility bound.
func (e *Engine) submitRead(tx Transaction) Response {
	readTx := table.TxId(atomic.LoadInt64(&e.committedTx)) + 1
	done := make(chan Response, 1)

	err := e.readers.Submit(func() {
		tbl := e.tbl.Load()
		staging := tbl.NewStaging(readTx)
		results := make([]table.ActionResult, 0, len(tx.Actions))
		for _, action := range tx.Actions {
			result, err := tbl.Stage(staging, action)
			if err != nil {
				done <- Response{Err: err}
				return
			}
			results = append(results, result)
		}
		done <- Response{Results: results}
	})
	if err != nil {
		return Response{Err: &errs.StorageError{Op: "submit_read", Err: err}}
	}
	return <-done
}

// CommittedTx returns the latest published transaction id.
func (e *Engine) CommittedTx() table.TxId {
	return table.TxId(atomic.LoadInt64(&e.committedTx))
}

// RowCount returns the number of rows currently in the table (live or
// tombstoned chains).
func (e *Engine) RowCount() int {
	return e.tbl.Load().Len()
}
