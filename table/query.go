package table

import (
	"github.com/SierraSoftworks/connor"
)

// readList performs the List{predicate} action: probe the unique index when
// the predicate carries an equality on a unique field, otherwise full-scan.
func (t *Table) readList(a List, tx TxId) (ActionResult, error) {
	if field, value, ok := t.uniqueEqualityClause(a.Predicates); ok {
		return t.listViaIndex(field, value, a.Predicates, tx)
	}
	return t.listViaScan(a.Predicates, tx)
}

func (t *Table) uniqueEqualityClause(predicates []Predicate) (field string, value interface{}, ok bool) {
	for _, p := range predicates {
		if p.Match != MatchValue {
			continue
		}
		if _, isUnique := t.indexes[p.Field]; isUnique {
			return p.Field, p.Value, true
		}
	}
	return "", nil, false
}

func (t *Table) listViaIndex(field string, value interface{}, predicates []Predicate, tx TxId) (ActionResult, error) {
	id, ok := t.indexes[field].Lookup(value)
	if !ok {
		return ActionResult{}, nil
	}
	row, ok := t.getRow(id)
	if !ok {
		return ActionResult{}, nil
	}
	v, ok := row.Chain.VisibleAt(tx)
	if !ok {
		return ActionResult{}, nil
	}
	decoded := t.decodedValue(id, v)
	match, err := matchPredicates(predicates, decoded)
	if err != nil || !match {
		return ActionResult{}, err
	}
	return ActionResult{Rows: []*RowSnapshot{t.snapshotOf(id, v)}}, nil
}

func (t *Table) listViaScan(predicates []Predicate, tx TxId) (ActionResult, error) {
	var rows []*RowSnapshot
	var matchErr error

	t.traverseRows(func(row *Row) bool {
		v, ok := row.Chain.VisibleAt(tx)
		if !ok {
			return true
		}
		decoded := t.decodedValue(row.Id, v)
		match, err := matchPredicates(predicates, decoded)
		if err != nil {
			matchErr = err
			return false
		}
		if match {
			rows = append(rows, t.snapshotOf(row.Id, v))
		}
		return true
	})

	if matchErr != nil {
		return ActionResult{}, matchErr
	}
	return ActionResult{Rows: rows}, nil
}

func (t *Table) readListLatest(tx TxId) (ActionResult, error) {
	var rows []*RowSnapshot
	t.traverseRows(func(row *Row) bool {
		if v, ok := row.Chain.VisibleAt(tx); ok {
			rows = append(rows, t.snapshotOf(row.Id, v))
		}
		return true
	})
	return ActionResult{Rows: rows}, nil
}

// matchPredicates conjoins every clause. MatchValue delegates to connor for
// equality; Any/Null/NotNull are evaluated directly against field presence.
func matchPredicates(predicates []Predicate, row map[string]interface{}) (bool, error) {
	for _, p := range predicates {
		value, present := row[p.Field]
		switch p.Match {
		case MatchAny:
			if !present {
				return false, nil
			}
		case MatchNull:
			if present && value != nil {
				return false, nil
			}
		case MatchNotNull:
			if !present || value == nil {
				return false, nil
			}
		default: // MatchValue
			match, err := connor.Match(map[string]interface{}{p.Field: p.Value}, row)
			if err != nil {
				return false, err
			}
			if !match {
				return false, nil
			}
		}
	}
	return true, nil
}
