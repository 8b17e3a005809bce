package persistence

import (
	"os"
	"testing"

	. "github.com/fulldump/biff"
)

func TestFileBackendAppendAndReplay(t *testing.T) {
	environment(func(dir string) {
		b := NewFileBackend(dir)
		AssertNil(b.Init())

		AssertNil(b.AppendWAL([]byte("entry-1")))
		AssertNil(b.AppendWAL([]byte("entry-2")))

		var got []string
		err := b.ReplayWAL(func(seq int, entry []byte) error {
			got = append(got, string(entry))
			return nil
		})
		AssertNil(err)
		AssertEqual(got, []string{"entry-1", "entry-2"})
	})
}

func TestFileBackendTruncateWAL(t *testing.T) {
	environment(func(dir string) {
		b := NewFileBackend(dir)
		AssertNil(b.Init())
		AssertNil(b.AppendWAL([]byte("entry-1")))
		AssertNil(b.TruncateWAL())

		var got []string
		err := b.ReplayWAL(func(seq int, entry []byte) error {
			got = append(got, string(entry))
			return nil
		})
		AssertNil(err)
		AssertEqual(len(got), 0)
	})
}

func TestFileBackendSnapshotRoundtrip(t *testing.T) {
	environment(func(dir string) {
		b := NewFileBackend(dir)
		AssertNil(b.Init())

		_, _, ok, err := b.ReadSnapshot()
		AssertNil(err)
		AssertFalse(ok)

		AssertNil(b.WriteSnapshot([]byte(`{"rows":[]}`), 7))

		data, tx, ok, err := b.ReadSnapshot()
		AssertNil(err)
		AssertTrue(ok)
		AssertEqual(string(data), `{"rows":[]}`)
		AssertEqual(tx, int64(7))
	})
}

func TestFileBackendSnapshotRejectsSizeMismatch(t *testing.T) {
	environment(func(dir string) {
		b := NewFileBackend(dir)
		AssertNil(b.Init())
		AssertNil(b.WriteSnapshot([]byte(`{"rows":[]}`), 1))

		// Simulate a crash between writing the body and the header
		// reflecting the truncated body's real size.
		AssertNil(os.WriteFile(b.snapshotPath(), []byte(`{"rows":[]`), 0666))

		_, _, _, err := b.ReadSnapshot()
		AssertNotNil(err)
	})
}

func TestFileBackendResetClearsState(t *testing.T) {
	environment(func(dir string) {
		b := NewFileBackend(dir)
		AssertNil(b.Init())
		AssertNil(b.AppendWAL([]byte("entry-1")))
		AssertNil(b.WriteSnapshot([]byte(`{}`), 0))

		AssertNil(b.Reset())

		_, _, ok, err := b.ReadSnapshot()
		AssertNil(err)
		AssertFalse(ok)

		AssertNil(b.AppendWAL([]byte("entry-after-reset")))
		var got []string
		AssertNil(b.ReplayWAL(func(seq int, entry []byte) error {
			got = append(got, string(entry))
			return nil
		}))
		AssertEqual(got, []string{"entry-after-reset"})
	})
}
