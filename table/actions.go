package table

import "github.com/Compulsed/lineagedb/rowid"

// MatchKind is the comparison a predicate clause performs against a field.
// Value is bare equality; Any/Null/NotNull test for field presence and
// absence instead of a specific value. All four remain per-field and
// conjunctive: there is no OR or IN support.
type MatchKind int

const (
	MatchValue MatchKind = iota
	MatchAny
	MatchNull
	MatchNotNull
)

// Predicate is one clause of a List query. A List action's predicate is the
// conjunction of its clauses.
type Predicate struct {
	Field string
	Match MatchKind
	Value interface{}
}

// Action is the sum type of everything a transaction can contain.
type Action interface {
	isAction()
}

type Add struct {
	Value map[string]interface{}
}

type Update struct {
	Id    rowid.ID
	Patch []byte // JSON merge patch
}

type Delete struct {
	Id rowid.ID
}

type Get struct {
	Id rowid.ID
}

type GetVersion struct {
	Id rowid.ID
	At TxId
}

type List struct {
	Predicates []Predicate
}

type ListLatestVersions struct{}

func (Add) isAction()                {}
func (Update) isAction()             {}
func (Delete) isAction()             {}
func (Get) isAction()                {}
func (GetVersion) isAction()         {}
func (List) isAction()               {}
func (ListLatestVersions) isAction() {}

// ActionResult carries the outcome of a single action within a transaction.
// At most one of Row / Rows is populated depending on the action kind (a
// Get or GetVersion that finds nothing leaves both empty);
// mutation actions (Add/Update/Delete) populate Row with the resulting
// (or, for Delete, the tombstoned) version.
type ActionResult struct {
	Row  *RowSnapshot
	Rows []*RowSnapshot
}

// IsReadOnly reports whether action never mutates table state. Read-only
// actions never reach the write-ahead log, and a transaction made only of
// read-only actions skips the writer goroutine entirely.
func IsReadOnly(a Action) bool {
	switch a.(type) {
	case Get, GetVersion, List, ListLatestVersions:
		return true
	default:
		return false
	}
}
