package table

import (
	"math"
	"sync"

	"github.com/Compulsed/lineagedb/errs"
	"github.com/Compulsed/lineagedb/rowid"
)

// TxId is a strictly monotonically increasing transaction identifier.
// 0 is the sentinel "no transaction".
type TxId int64

// Infinity is the end_tx value carried by a version that is still current.
const Infinity TxId = math.MaxInt64

// Kind distinguishes a live version from a deletion marker.
type Kind int

const (
	Live Kind = iota
	Tombstone
)

// Version is one entry in a row's history. Versions are not deltas: value
// carries the full record, stored as raw JSON so a version's bytes can be
// written straight to the WAL and its decoded form memoized in the table's
// decode cache instead of re-parsed on every scan.
type Version struct {
	Value   []byte
	BeginTx TxId
	EndTx   TxId
	Kind    Kind
}

// Chain holds the ordered history of a single row's versions: append-only
// from the writer's perspective, guarded by its own lock so readers never
// block behind another row's writer.
type Chain struct {
	mu       sync.RWMutex
	Id       rowid.ID
	versions []*Version
}

func NewChain(id rowid.ID) *Chain {
	return &Chain{Id: id}
}

// VisibleAt returns the unique live version v with v.BeginTx <= tx <
// v.EndTx, if any.
func (c *Chain) VisibleAt(tx TxId) (*Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visibleAtLocked(tx)
}

func (c *Chain) visibleAtLocked(tx TxId) (*Version, bool) {
	for _, v := range c.versions {
		if v.BeginTx <= tx && tx < v.EndTx {
			if v.Kind == Tombstone {
				return nil, false
			}
			return v, true
		}
	}
	return nil, false
}

// VersionAt returns the version (live or tombstone) visible at tx, used by
// temporal GetVersion queries which want to see a tombstone too.
func (c *Chain) VersionAt(tx TxId) (*Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.versions {
		if v.BeginTx <= tx && tx < v.EndTx {
			return v, true
		}
	}
	return nil, false
}

// AllVersions returns the full ordered history.
func (c *Chain) AllVersions() []*Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Version, len(c.versions))
	copy(out, c.versions)
	return out
}

// AppendVersion appends v, which must have BeginTx equal to the closing
// tx of the currently open version (or be the chain's first version).
func (c *Chain) AppendVersion(v *Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendVersionLocked(v)
}

func (c *Chain) appendVersionLocked(v *Version) error {
	if len(c.versions) > 0 {
		last := c.versions[len(c.versions)-1]
		if last.EndTx != v.BeginTx {
			return &errs.InternalInvariant{Reason: "append_version: chain not closed before new version"}
		}
		if last.Kind == Tombstone {
			return &errs.InternalInvariant{Reason: "append_version: chain already terminated by tombstone"}
		}
	}
	c.versions = append(c.versions, v)
	return nil
}

// TrimBefore discards every closed version with EndTx <= tx. This is only
// ever called by an explicit operator command, never automatically. The
// caller is responsible for ensuring no reader holds a snapshot older than
// tx, since trimming does not itself track live reader snapshots.
func (c *Chain) TrimBefore(tx TxId) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.versions[:0]
	removed := 0
	for _, v := range c.versions {
		if v.EndTx <= tx {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	c.versions = kept
	return removed
}

// CloseCurrent sets the open version's EndTx, failing if none is open.
func (c *Chain) CloseCurrent(endTx TxId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCurrentLocked(endTx)
}

func (c *Chain) closeCurrentLocked(endTx TxId) error {
	if len(c.versions) == 0 {
		return &errs.InternalInvariant{Reason: "close_current: no open version"}
	}
	last := c.versions[len(c.versions)-1]
	if last.EndTx != Infinity {
		return &errs.InternalInvariant{Reason: "close_current: no open version"}
	}
	last.EndTx = endTx
	return nil
}
