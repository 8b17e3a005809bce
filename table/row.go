package table

import "github.com/Compulsed/lineagedb/rowid"

// Row pairs a stable id with its version chain.
type Row struct {
	Id    rowid.ID
	Chain *Chain
}

func newRow(id rowid.ID) *Row {
	return &Row{Id: id, Chain: NewChain(id)}
}

// Less orders rows by id for the btree.BTreeG container.
func (r *Row) Less(other *Row) bool {
	return r.Id < other.Id
}

// RowSnapshot is a read-only, detached view of a row at some tx, safe to
// hand to callers outside the table's locks.
type RowSnapshot struct {
	Id      rowid.ID
	Value   map[string]interface{}
	BeginTx TxId
	EndTx   TxId
	Kind    Kind
}

func (t *Table) snapshotOf(id rowid.ID, v *Version) *RowSnapshot {
	var value map[string]interface{}
	if v.Kind == Live {
		value = cloneValue(t.decodedValue(id, v))
	}
	return &RowSnapshot{
		Id:      id,
		Value:   value,
		BeginTx: v.BeginTx,
		EndTx:   v.EndTx,
		Kind:    v.Kind,
	}
}

func cloneValue(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, item := range v {
		out[k] = item
	}
	return out
}
