// Package table implements the row version chain, the table and its
// uniqueness indexes: staging and installing per-row actions, and
// predicate-based query execution over the visible version of each row.
package table

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/rowid"
)

type decodeCacheKey struct {
	id      rowid.ID
	beginTx TxId
}

// Table owns row chains keyed by id and one UniqueIndex per unique field.
//
// rows is guarded by mu: the writer holds Lock while mutating the tree
// structure (Install, Restore) and readers, as well as TrimRowBefore's
// lookup, hold RLock while traversing or looking a row up, since the underlying
// btree.BTreeG is only safe for concurrent use through Clone, which this
// table never calls. Each row's own version history is additionally
// guarded by its Chain's own lock, so holding mu only protects the tree
// shape, not version content.
type Table struct {
	mu           sync.RWMutex
	rows         RowContainer
	uniqueFields []string
	indexes      map[string]*UniqueIndex
	decodeCache  *lru.Cache[decodeCacheKey, map[string]interface{}]
}

// New builds a table enforcing uniqueness on uniqueFields, with a bounded
// decode cache of decodeCacheSize entries (0 disables caching).
func New(uniqueFields []string, decodeCacheSize int) *Table {
	t := &Table{
		rows:         NewBTreeContainer(),
		uniqueFields: uniqueFields,
		indexes:      map[string]*UniqueIndex{},
	}
	for _, f := range uniqueFields {
		t.indexes[f] = NewUniqueIndex(f)
	}
	if decodeCacheSize > 0 {
		cache, err := lru.New[decodeCacheKey, map[string]interface{}](decodeCacheSize)
		if err == nil {
			t.decodeCache = cache
		}
	}
	return t
}

// NewStaging opens a scratch buffer for a transaction assigned tx.
func (t *Table) NewStaging(tx TxId) *Staging {
	return newStaging(tx)
}

// Len returns the number of rows (version chains) in the table, including
// rows whose chain ends in a tombstone.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows.Len()
}

// getRow looks up a row under a read lock.
func (t *Table) getRow(id rowid.ID) (*Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows.Get(id)
}

// traverseRows runs f over every row under a read lock, held for the
// full traversal so the tree shape cannot change mid-Ascend.
func (t *Table) traverseRows(f func(row *Row) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.rows.Traverse(f)
}

// decodedValue unmarshals v's payload, memoizing on (id, v.BeginTx) since a
// version's bytes never change once written. Callers that mutate the result
// must copy it first (see cloneValue).
func (t *Table) decodedValue(id rowid.ID, v *Version) map[string]interface{} {
	if v.Kind != Live {
		return nil
	}
	if t.decodeCache != nil {
		key := decodeCacheKey{id: id, beginTx: v.BeginTx}
		if cached, ok := t.decodeCache.Get(key); ok {
			return cached
		}
		decoded := map[string]interface{}{}
		if err := json.Unmarshal(v.Value, &decoded); err != nil {
			logger.Printf("row %s: corrupt version at tx %d: %v", id, v.BeginTx, err)
		}
		t.decodeCache.Add(key, decoded)
		return decoded
	}
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(v.Value, &decoded); err != nil {
		logger.Printf("row %s: corrupt version at tx %d: %v", id, v.BeginTx, err)
	}
	return decoded
}

// currentValue resolves a row's value as of tx-1, or as staged so far in
// this transaction, so later actions in the same transaction see earlier
// ones' writes.
func (t *Table) currentValue(staging *Staging, id rowid.ID, tx TxId) (map[string]interface{}, Kind, bool) {
	if sc, ok := staging.changes[id]; ok {
		if sc.newVersion.Kind == Tombstone {
			return nil, Tombstone, false
		}
		decoded := map[string]interface{}{}
		json.Unmarshal(sc.newVersion.Value, &decoded)
		return decoded, sc.newVersion.Kind, true
	}
	row, ok := t.getRow(id)
	if !ok {
		return nil, Live, false
	}
	v, ok := row.Chain.VisibleAt(tx - 1)
	if !ok {
		return nil, Live, false
	}
	return cloneValue(t.decodedValue(id, v)), v.Kind, true
}

// checkUnique validates that value is free for owner to claim on field,
// consulting both the committed index and this transaction's own staged
// reservations, and returns a *errs.UniquenessViolation on conflict.
func (t *Table) checkUnique(staging *Staging, field string, value interface{}, owner rowid.ID) error {
	if reservedBy, ok := staging.reservedOwner(field, value); ok {
		if reservedBy != owner {
			return &errs.UniquenessViolation{Field: field, Value: value}
		}
		return nil
	}
	if committedBy, ok := t.indexes[field].Lookup(value); ok && committedBy != owner {
		if !staging.isFreed(field, value) {
			return &errs.UniquenessViolation{Field: field, Value: value}
		}
	}
	return nil
}

// diffUnique stages the release of oldValue and the reservation of
// newValue for owner on field, when they differ.
func (t *Table) diffUnique(staging *Staging, field string, oldValue, newValue interface{}, oldHas, newHas bool, owner rowid.ID) error {
	if oldHas && newHas && oldValue == newValue {
		return nil
	}
	if newHas {
		if err := t.checkUnique(staging, field, newValue, owner); err != nil {
			return err
		}
	}
	if oldHas {
		staging.free(field, oldValue)
	}
	if newHas {
		staging.reserve(field, newValue, owner)
	}
	return nil
}

// Stage validates action against latest_committed_tx (tx-1) plus staging,
// and records its tentative effect. Nothing is installed into the live
// table by this call.
func (t *Table) Stage(staging *Staging, action Action) (ActionResult, error) {
	switch a := action.(type) {
	case Add:
		return t.stageAdd(staging, a)
	case Update:
		return t.stageUpdate(staging, a)
	case Delete:
		return t.stageDelete(staging, a)
	case Get:
		return t.readGet(staging, a.Id, staging.tx)
	case GetVersion:
		return t.readGetVersion(a)
	case List:
		return t.readList(a, staging.tx-1)
	case ListLatestVersions:
		return t.readListLatest(staging.tx - 1)
	default:
		return ActionResult{}, &errs.ValidationError{Reason: fmt.Sprintf("unknown action type %T", action)}
	}
}

func (t *Table) stageAdd(staging *Staging, a Add) (ActionResult, error) {
	id := rowid.New()

	for _, field := range t.uniqueFields {
		value, has := a.Value[field]
		if !has {
			continue
		}
		if err := t.checkUnique(staging, field, value, id); err != nil {
			return ActionResult{}, err
		}
		staging.reserve(field, value, id)
	}

	encoded, err := json.Marshal(a.Value)
	if err != nil {
		return ActionResult{}, &errs.ValidationError{Reason: "add: cannot encode value: " + err.Error()}
	}

	v := &Version{Value: encoded, BeginTx: staging.tx, EndTx: Infinity, Kind: Live}
	staging.put(id, &staged{id: id, isNewRow: true, newVersion: v})

	return ActionResult{Row: t.snapshotOf(id, v)}, nil
}

func (t *Table) stageUpdate(staging *Staging, a Update) (ActionResult, error) {
	oldValue, kind, exists := t.currentValue(staging, a.Id, staging.tx)
	if !exists || kind == Tombstone {
		return ActionResult{}, &errs.ValidationError{Reason: fmt.Sprintf("update: row %s does not exist or is tombstoned", a.Id)}
	}

	oldBytes, err := json.Marshal(oldValue)
	if err != nil {
		return ActionResult{}, &errs.ValidationError{Reason: "update: cannot encode current value: " + err.Error()}
	}
	newBytes, err := jsonpatch.MergePatch(oldBytes, a.Patch)
	if err != nil {
		return ActionResult{}, &errs.ValidationError{Reason: "update: invalid patch: " + err.Error()}
	}
	newValue := map[string]interface{}{}
	if err := json.Unmarshal(newBytes, &newValue); err != nil {
		return ActionResult{}, &errs.ValidationError{Reason: "update: patched value is not an object: " + err.Error()}
	}

	for _, field := range t.uniqueFields {
		oldV, oldHas := oldValue[field]
		newV, newHas := newValue[field]
		if err := t.diffUnique(staging, field, oldV, newV, oldHas, newHas, a.Id); err != nil {
			return ActionResult{}, err
		}
	}

	row, _ := t.getRow(a.Id)
	v := &Version{Value: newBytes, BeginTx: staging.tx, EndTx: Infinity, Kind: Live}
	staging.put(a.Id, &staged{id: a.Id, row: row, newVersion: v})

	return ActionResult{Row: t.snapshotOf(a.Id, v)}, nil
}

func (t *Table) stageDelete(staging *Staging, a Delete) (ActionResult, error) {
	oldValue, kind, exists := t.currentValue(staging, a.Id, staging.tx)
	if !exists || kind == Tombstone {
		return ActionResult{}, &errs.ValidationError{Reason: fmt.Sprintf("delete: row %s does not exist or is already tombstoned", a.Id)}
	}

	for _, field := range t.uniqueFields {
		if oldV, has := oldValue[field]; has {
			staging.free(field, oldV)
		}
	}

	row, _ := t.getRow(a.Id)
	v := &Version{Value: nil, BeginTx: staging.tx, EndTx: Infinity, Kind: Tombstone}
	staging.put(a.Id, &staged{id: a.Id, row: row, newVersion: v})

	return ActionResult{Row: t.snapshotOf(a.Id, v)}, nil
}

func (t *Table) readGet(staging *Staging, id rowid.ID, tx TxId) (ActionResult, error) {
	value, kind, exists := t.currentValue(staging, id, tx)
	if !exists || kind == Tombstone {
		return ActionResult{}, nil
	}
	return ActionResult{Row: &RowSnapshot{Id: id, Value: value, Kind: kind}}, nil
}

func (t *Table) readGetVersion(a GetVersion) (ActionResult, error) {
	row, ok := t.getRow(a.Id)
	if !ok {
		return ActionResult{}, nil
	}
	v, ok := row.Chain.VersionAt(a.At)
	if !ok {
		return ActionResult{}, nil
	}
	return ActionResult{Row: t.snapshotOf(a.Id, v)}, nil
}

// Install applies every staged change into the live table: closes
// superseded versions, appends new ones, and updates uniqueness indexes.
// This step is infallible by construction: every conflict was already
// rejected during Stage.
func (t *Table) Install(staging *Staging) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range staging.order {
		sc := staging.changes[id]
		if sc.isNewRow {
			row := newRow(id)
			if err := row.Chain.AppendVersion(sc.newVersion); err != nil {
				return err
			}
			t.rows.ReplaceOrInsert(row)
			continue
		}
		if err := sc.row.Chain.CloseCurrent(sc.newVersion.BeginTx); err != nil {
			return err
		}
		if err := sc.row.Chain.AppendVersion(sc.newVersion); err != nil {
			return err
		}
	}

	for field, values := range staging.freed {
		for value := range values {
			t.indexes[field].remove(value)
		}
	}
	for field, values := range staging.reserved {
		for value, owner := range values {
			t.indexes[field].set(value, owner)
		}
	}

	return nil
}

// TrimRowBefore runs Chain.TrimBefore against a single row, returning
// ok=false if no row exists with that id.
func (t *Table) TrimRowBefore(id rowid.ID, tx TxId) (removed int, ok bool) {
	row, ok := t.getRow(id)
	if !ok {
		return 0, false
	}
	return row.Chain.TrimBefore(tx), true
}

// RowChainSnapshot is the durable form of one row's full history. Keeping
// every version, not just the latest, means temporal queries still work
// against rows restored from a snapshot.
type RowChainSnapshot struct {
	Id       rowid.ID
	Versions []*Version
}

// Snapshot returns every row's full version chain, for persisting whole
// table state.
func (t *Table) Snapshot() []RowChainSnapshot {
	var out []RowChainSnapshot
	t.traverseRows(func(row *Row) bool {
		out = append(out, RowChainSnapshot{Id: row.Id, Versions: row.Chain.AllVersions()})
		return true
	})
	return out
}

// Restore installs a version directly during WAL replay / snapshot load,
// bypassing staging and uniqueness re-validation (the data was already
// validated when it was first committed). Only a version that is still
// open binds its unique values in the index; closing an open version
// releases the bindings it held.
func (t *Table) Restore(id rowid.ID, v *Version) {
	var superseded *Version
	t.mu.Lock()
	row, ok := t.rows.Get(id)
	if !ok {
		row = newRow(id)
		t.rows.ReplaceOrInsert(row)
	} else {
		if all := row.Chain.AllVersions(); len(all) > 0 && all[len(all)-1].EndTx == Infinity {
			superseded = all[len(all)-1]
		}
		row.Chain.CloseCurrent(v.BeginTx)
	}
	row.Chain.AppendVersion(v)
	t.mu.Unlock()

	if superseded != nil && superseded.Kind == Live {
		old := t.decodedValue(id, superseded)
		for _, field := range t.uniqueFields {
			if value, has := old[field]; has {
				if owner, bound := t.indexes[field].Lookup(value); bound && owner == id {
					t.indexes[field].remove(value)
				}
			}
		}
	}
	if v.Kind != Live || v.EndTx != Infinity {
		return
	}
	decoded := t.decodedValue(id, v)
	for _, field := range t.uniqueFields {
		if value, has := decoded[field]; has {
			t.indexes[field].set(value, id)
		}
	}
}
