package table

import (
	"github.com/google/btree"

	"github.com/Compulsed/lineagedb/rowid"
)

// RowContainer is the pluggable storage backing a table's row set,
// ordered by id so range scans and predictable iteration order come for
// free. It is not safe for concurrent use on its own; Table serializes
// access to it with its own lock.
type RowContainer interface {
	ReplaceOrInsert(row *Row)
	Delete(id rowid.ID)
	Get(id rowid.ID) (*Row, bool)
	Len() int
	Traverse(iterator func(row *Row) bool)
}

// BTreeContainer is the default RowContainer, ordering rows by id.
type BTreeContainer struct {
	tree *btree.BTreeG[*Row]
}

func NewBTreeContainer() *BTreeContainer {
	return &BTreeContainer{
		tree: btree.NewG(32, func(a, b *Row) bool { return a.Less(b) }),
	}
}

func (b *BTreeContainer) ReplaceOrInsert(row *Row) {
	b.tree.ReplaceOrInsert(row)
}

func (b *BTreeContainer) Delete(id rowid.ID) {
	b.tree.Delete(&Row{Id: id})
}

func (b *BTreeContainer) Get(id rowid.ID) (*Row, bool) {
	return b.tree.Get(&Row{Id: id})
}

func (b *BTreeContainer) Len() int {
	return b.tree.Len()
}

func (b *BTreeContainer) Traverse(iterator func(row *Row) bool) {
	b.tree.Ascend(iterator)
}
