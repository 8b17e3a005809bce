package table

import (
	"testing"

	. "github.com/fulldump/biff"

	"github.com/Compulsed/lineagedb/rowid"
)

func TestChainVisibilityAcrossVersions(t *testing.T) {
	c := NewChain(rowid.New())

	AssertNil(c.AppendVersion(&Version{Value: []byte(`{"v":1}`), BeginTx: 1, EndTx: Infinity, Kind: Live}))
	AssertNil(c.CloseCurrent(2))
	AssertNil(c.AppendVersion(&Version{Value: []byte(`{"v":2}`), BeginTx: 2, EndTx: Infinity, Kind: Live}))

	_, ok := c.VisibleAt(0)
	AssertFalse(ok)

	v1, ok := c.VisibleAt(1)
	AssertTrue(ok)
	AssertEqual(string(v1.Value), `{"v":1}`)

	v2, ok := c.VisibleAt(2)
	AssertTrue(ok)
	AssertEqual(string(v2.Value), `{"v":2}`)

	AssertEqual(len(c.AllVersions()), 2)
}

func TestChainAppendRejectsUnclosedPredecessor(t *testing.T) {
	c := NewChain(rowid.New())
	AssertNil(c.AppendVersion(&Version{Value: []byte(`{}`), BeginTx: 1, EndTx: Infinity, Kind: Live}))

	err := c.AppendVersion(&Version{Value: []byte(`{}`), BeginTx: 2, EndTx: Infinity, Kind: Live})
	AssertNotNil(err)
}

func TestChainTombstoneTerminates(t *testing.T) {
	c := NewChain(rowid.New())
	AssertNil(c.AppendVersion(&Version{Value: []byte(`{}`), BeginTx: 1, EndTx: Infinity, Kind: Live}))
	AssertNil(c.CloseCurrent(2))
	AssertNil(c.AppendVersion(&Version{BeginTx: 2, EndTx: Infinity, Kind: Tombstone}))

	_, ok := c.VisibleAt(2)
	AssertFalse(ok)

	err := c.CloseCurrent(3)
	AssertNil(err) // tombstone's end_tx can still be closed mechanically...
	err = c.AppendVersion(&Version{BeginTx: 3, EndTx: Infinity, Kind: Live})
	AssertNotNil(err) // ...but appending past a tombstone is rejected
}

func TestChainTrimBeforeDropsSupersededVersions(t *testing.T) {
	c := NewChain(rowid.New())
	AssertNil(c.AppendVersion(&Version{Value: []byte(`{"v":1}`), BeginTx: 1, EndTx: 2, Kind: Live}))
	AssertNil(c.AppendVersion(&Version{Value: []byte(`{"v":2}`), BeginTx: 2, EndTx: Infinity, Kind: Live}))

	removed := c.TrimBefore(2)
	AssertEqual(removed, 1)
	AssertEqual(len(c.AllVersions()), 1)
}
