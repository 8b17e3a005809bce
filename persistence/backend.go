// Package persistence implements the pluggable durability layer: WAL
// append with fsync-before-ack, and whole-state snapshot write/restore.
package persistence

// Backend is the pluggable persistence contract every storage
// implementation satisfies: append/replay/truncate the write-ahead log,
// write/read a full-state snapshot, plus init/reset lifecycle hooks.
type Backend interface {
	// Init prepares the backend for use (e.g. creating a data directory).
	Init() error

	// Reset destroys all persisted state; used by tests and the operator
	// reset() command.
	Reset() error

	// AppendWAL durably appends entry to the write-ahead log. It returns
	// only once entry has survived a process crash.
	AppendWAL(entry []byte) error

	// ReplayWAL feeds every WAL entry, in order, to fn. A partially
	// written trailing entry (from a crash mid-append) is logged and
	// dropped rather than surfaced as an error.
	ReplayWAL(fn func(seq int, entry []byte) error) error

	// TruncateWAL drops the WAL now that a fresh snapshot covers all of
	// its entries.
	TruncateWAL() error

	// WriteSnapshot durably persists a full-state blob alongside a header
	// recording tx, the last transaction it reflects.
	WriteSnapshot(data []byte, tx int64) error

	// ReadSnapshot returns the most recent snapshot blob and the tx it
	// was taken at, or ok=false if none exists yet. A header/body
	// mismatch (wrong magic, version, or size) is reported as an
	// *errs.Corruption rather than silently returning the body.
	ReadSnapshot() (data []byte, tx int64, ok bool, err error)
}

const (
	blobSnapshot = "snapshot.json"
	blobMetadata = "metadata.json"
	blobWAL      = "wal.log"

	snapshotMagic         = "LNDB"
	snapshotFormatVersion = 1
)

// snapshotMetadata is the header a backend writes to blobMetadata
// alongside every snapshot body: enough to detect a stale format or a
// partially written body without decoding it.
type snapshotMetadata struct {
	Magic   string `json:"magic"`
	Version int    `json:"version"`
	TxId    int64  `json:"tx_id"`
	Size    int    `json:"size"`
}
