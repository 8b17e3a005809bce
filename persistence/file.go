package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Compulsed/lineagedb/errs"
)

// FileBackend persists the WAL as a sequence of length-prefixed frames and
// snapshots as a metadata.json/snapshot.json blob pair. A single goroutine
// owns the WAL file descriptor; each append request carries an ack channel
// so AppendWAL only returns to its caller once the batch containing it has
// been flushed and fsynced.
type FileBackend struct {
	Dir string

	mu       sync.Mutex
	walFile  *os.File
	walBuf   *bufio.Writer
	requests chan *appendRequest
	closed   chan struct{}
	closeOne sync.Once
	wg       sync.WaitGroup
}

type appendRequest struct {
	entry []byte
	ack   chan error
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{
		Dir:      dir,
		requests: make(chan *appendRequest, 1000),
		closed:   make(chan struct{}),
	}
}

func (b *FileBackend) Init() error {
	if err := os.MkdirAll(b.Dir, 0755); err != nil {
		return &errs.StorageError{Op: "init", Err: err}
	}
	f, err := os.OpenFile(b.walPath(), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return &errs.StorageError{Op: "init", Err: err}
	}
	b.walFile = f
	b.walBuf = bufio.NewWriterSize(f, 4*1024*1024)

	b.wg.Add(1)
	go b.writerLoop()
	return nil
}

func (b *FileBackend) walPath() string      { return filepath.Join(b.Dir, blobWAL) }
func (b *FileBackend) metaPath() string     { return filepath.Join(b.Dir, blobMetadata) }
func (b *FileBackend) snapshotPath() string { return filepath.Join(b.Dir, blobSnapshot) }

// writerLoop is the single goroutine that owns the WAL file descriptor. It
// batches every request pending at wake-up into one Flush+Sync, then acks
// all of them, so back-to-back commits from a busy writer share one fsync.
func (b *FileBackend) writerLoop() {
	defer b.wg.Done()
	for {
		select {
		case req, ok := <-b.requests:
			if !ok {
				return
			}
			batch := []*appendRequest{req}
		drain:
			for {
				select {
				case r := <-b.requests:
					batch = append(batch, r)
				default:
					break drain
				}
			}
			b.writeBatch(batch)

		case <-b.closed:
			return
		}
	}
}

func (b *FileBackend) writeBatch(batch []*appendRequest) {
	var writeErr error
	for _, req := range batch {
		var frame bytes.Buffer
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(req.entry)))
		frame.Write(lenBuf[:])
		frame.Write(req.entry)
		if _, err := b.walBuf.Write(frame.Bytes()); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		if err := b.walBuf.Flush(); err != nil {
			writeErr = err
		} else if err := b.walFile.Sync(); err != nil {
			writeErr = err
		}
	}
	var wrapped error
	if writeErr != nil {
		wrapped = &errs.StorageError{Op: "append_wal", Err: writeErr}
	}
	for _, req := range batch {
		req.ack <- wrapped
	}
}

func (b *FileBackend) AppendWAL(entry []byte) error {
	req := &appendRequest{entry: entry, ack: make(chan error, 1)}
	select {
	case b.requests <- req:
	case <-b.closed:
		return &errs.StorageError{Op: "append_wal", Err: fmt.Errorf("backend closed")}
	}
	return <-req.ack
}

// ReplayWAL reads length-prefixed frames until EOF or a short trailing
// frame, which it treats as an unflushed partial write: it logs a warning
// and drops it.
func (b *FileBackend) ReplayWAL(fn func(seq int, entry []byte) error) error {
	f, err := os.Open(b.walPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &errs.StorageError{Op: "replay_wal", Err: err}
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 4*1024*1024)
	seq := 0
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if err == io.ErrUnexpectedEOF {
					logger.Printf("%s: truncated frame header at entry %d, stopping replay there", b.walPath(), seq)
				}
				return nil
			}
			return &errs.StorageError{Op: "replay_wal", Err: err}
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				logger.Printf("%s: truncated frame body at entry %d, stopping replay there", b.walPath(), seq)
				return nil
			}
			return &errs.StorageError{Op: "replay_wal", Err: err}
		}
		if err := fn(seq, data); err != nil {
			return err
		}
		seq++
	}
}

func (b *FileBackend) TruncateWAL() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.walFile.Truncate(0); err != nil {
		return &errs.StorageError{Op: "truncate_wal", Err: err}
	}
	if _, err := b.walFile.Seek(0, io.SeekStart); err != nil {
		return &errs.StorageError{Op: "truncate_wal", Err: err}
	}
	b.walBuf.Reset(b.walFile)
	return nil
}

func (b *FileBackend) WriteSnapshot(data []byte, tx int64) error {
	tmp := b.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0666); err != nil {
		return &errs.StorageError{Op: "write_snapshot", Err: err}
	}
	if err := os.Rename(tmp, b.snapshotPath()); err != nil {
		return &errs.StorageError{Op: "write_snapshot", Err: err}
	}
	meta, err := json.Marshal(snapshotMetadata{
		Magic:   snapshotMagic,
		Version: snapshotFormatVersion,
		TxId:    tx,
		Size:    len(data),
	})
	if err != nil {
		return &errs.StorageError{Op: "write_snapshot", Err: err}
	}
	if err := os.WriteFile(b.metaPath(), meta, 0666); err != nil {
		return &errs.StorageError{Op: "write_snapshot", Err: err}
	}
	return nil
}

// ReadSnapshot validates the metadata.json header before trusting
// snapshot.json's body: a magic/version mismatch means a format this
// build doesn't understand, and a size mismatch means the body was
// only partially written (e.g. a crash between the two files).
func (b *FileBackend) ReadSnapshot() ([]byte, int64, bool, error) {
	metaBytes, err := os.ReadFile(b.metaPath())
	if os.IsNotExist(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, &errs.StorageError{Op: "read_snapshot", Err: err}
	}
	var meta snapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, 0, false, &errs.Corruption{Reason: "read_snapshot: cannot decode metadata: " + err.Error()}
	}
	if meta.Magic != snapshotMagic || meta.Version != snapshotFormatVersion {
		return nil, 0, false, &errs.Corruption{Reason: fmt.Sprintf("read_snapshot: unrecognized snapshot header %+v", meta)}
	}

	data, err := os.ReadFile(b.snapshotPath())
	if os.IsNotExist(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, &errs.StorageError{Op: "read_snapshot", Err: err}
	}
	if len(data) != meta.Size {
		return nil, 0, false, &errs.Corruption{Reason: fmt.Sprintf("read_snapshot: body is %d bytes, header recorded %d", len(data), meta.Size)}
	}
	return data, meta.TxId, true, nil
}

func (b *FileBackend) Reset() error {
	b.closeOne.Do(func() { close(b.closed) })
	b.wg.Wait()
	if b.walFile != nil {
		b.walFile.Close()
	}
	os.Remove(b.walPath())
	os.Remove(b.snapshotPath())
	os.Remove(b.metaPath())

	b.closed = make(chan struct{})
	b.closeOne = sync.Once{}
	b.requests = make(chan *appendRequest, 1000)
	return b.Init()
}
