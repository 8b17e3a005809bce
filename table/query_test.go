package table

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestMatchPredicatesAnyNullNotNull(t *testing.T) {
	withField := map[string]interface{}{"email": "a@x"}
	nullField := map[string]interface{}{"email": nil}
	withoutField := map[string]interface{}{}

	match, err := matchPredicates([]Predicate{{Field: "email", Match: MatchAny}}, withField)
	AssertNil(err)
	AssertTrue(match)

	match, err = matchPredicates([]Predicate{{Field: "email", Match: MatchAny}}, withoutField)
	AssertNil(err)
	AssertFalse(match)

	match, err = matchPredicates([]Predicate{{Field: "email", Match: MatchNull}}, nullField)
	AssertNil(err)
	AssertTrue(match)

	match, err = matchPredicates([]Predicate{{Field: "email", Match: MatchNull}}, withoutField)
	AssertNil(err)
	AssertTrue(match)

	match, err = matchPredicates([]Predicate{{Field: "email", Match: MatchNotNull}}, withField)
	AssertNil(err)
	AssertTrue(match)

	match, err = matchPredicates([]Predicate{{Field: "email", Match: MatchNotNull}}, nullField)
	AssertNil(err)
	AssertFalse(match)
}

func TestMatchPredicatesConjunction(t *testing.T) {
	row := map[string]interface{}{"email": "a@x", "active": true}

	match, err := matchPredicates([]Predicate{
		{Field: "email", Match: MatchValue, Value: "a@x"},
		{Field: "active", Match: MatchValue, Value: true},
	}, row)
	AssertNil(err)
	AssertTrue(match)

	match, err = matchPredicates([]Predicate{
		{Field: "email", Match: MatchValue, Value: "a@x"},
		{Field: "active", Match: MatchValue, Value: false},
	}, row)
	AssertNil(err)
	AssertFalse(match)
}
