package table

import (
	"errors"
	"strconv"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/Compulsed/lineagedb/errs"
)

// commit stages every action against tx in order and installs on success,
// mirroring the write coordinator's pipeline without the engine.
func commit(tbl *Table, tx TxId, actions ...Action) ([]ActionResult, error) {
	staging := tbl.NewStaging(tx)
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		r, err := tbl.Stage(staging, a)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := tbl.Install(staging); err != nil {
		return nil, err
	}
	return results, nil
}

// S1: create-get.
func TestAddThenGet(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	results, err := commit(tbl, 1, Add{Value: map[string]interface{}{"fullName": "A", "email": "a@x"}})
	AssertNil(err)
	id := results[0].Row.Id

	staging := tbl.NewStaging(2)
	got, err := tbl.Stage(staging, Get{Id: id})
	AssertNil(err)
	AssertEqual(got.Row.Value["email"], "a@x")

	staging2 := tbl.NewStaging(1)
	none, err := tbl.Stage(staging2, GetVersion{Id: id, At: 0})
	AssertNil(err)
	AssertNil(none.Row)
}

// S2: update-history.
func TestUpdateHistoryIsPreserved(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	results, err := commit(tbl, 1, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNil(err)
	id := results[0].Row.Id

	patch := []byte(`{"email":"b@x"}`)
	_, err = commit(tbl, 2, Update{Id: id, Patch: patch})
	AssertNil(err)

	staging := tbl.NewStaging(3)
	v1, err := tbl.Stage(staging, GetVersion{Id: id, At: 1})
	AssertNil(err)
	AssertEqual(v1.Row.Value["email"], "a@x")

	v2, err := tbl.Stage(staging, GetVersion{Id: id, At: 2})
	AssertNil(err)
	AssertEqual(v2.Row.Value["email"], "b@x")
}

// S3: unique-conflict across separate transactions.
func TestUniqueConflictAcrossTransactions(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	_, err := commit(tbl, 1, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNil(err)

	_, err = commit(tbl, 2, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNotNil(err)

	var uv *errs.UniquenessViolation
	AssertTrue(errors.As(err, &uv))
	AssertEqual(uv.Field, "email")
}

// S4: multi-action atomic — a single transaction with two colliding Adds
// must abort with no rows created.
func TestMultiActionUniqueConflictLeavesNoTrace(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	_, err := commit(tbl, 1,
		Add{Value: map[string]interface{}{"email": "a@x"}},
		Add{Value: map[string]interface{}{"email": "a@x"}},
	)
	AssertNotNil(err)
	AssertEqual(tbl.Len(), 0)
}

// S6: list-with-index and full-scan agree.
func TestListIndexAndScanAgree(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	staging := tbl.NewStaging(1)
	for i := 0; i < 50; i++ {
		email := "e" + strconv.Itoa(i) + "@x"
		_, err := tbl.Stage(staging, Add{Value: map[string]interface{}{"email": email, "seq": email}})
		AssertNil(err)
	}
	AssertNil(tbl.Install(staging))

	readStaging := tbl.NewStaging(2)
	viaIndex, err := tbl.Stage(readStaging, List{Predicates: []Predicate{{Field: "email", Match: MatchValue, Value: "e25@x"}}})
	AssertNil(err)
	AssertEqual(len(viaIndex.Rows), 1)

	viaScan, err := tbl.Stage(readStaging, List{Predicates: []Predicate{{Field: "seq", Match: MatchValue, Value: "e25@x"}}})
	AssertNil(err)
	AssertEqual(len(viaScan.Rows), 1)
	AssertEqual(viaScan.Rows[0].Id, viaIndex.Rows[0].Id)
}

// Delete terminates the chain; a later Update against the same id fails.
func TestDeleteThenUpdateFails(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	results, err := commit(tbl, 1, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNil(err)
	id := results[0].Row.Id

	_, err = commit(tbl, 2, Delete{Id: id})
	AssertNil(err)

	_, err = commit(tbl, 3, Update{Id: id, Patch: []byte(`{"email":"b@x"}`)})
	AssertNotNil(err)
}

// Deleting a row frees its unique value for reuse by a later Add.
func TestDeleteFreesUniqueValue(t *testing.T) {
	tbl := New([]string{"email"}, 0)

	results, err := commit(tbl, 1, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNil(err)
	id := results[0].Row.Id

	_, err = commit(tbl, 2, Delete{Id: id})
	AssertNil(err)

	_, err = commit(tbl, 3, Add{Value: map[string]interface{}{"email": "a@x"}})
	AssertNil(err)
}
