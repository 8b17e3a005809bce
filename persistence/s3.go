package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/Compulsed/lineagedb/errs"
)

// S3Backend persists blobs to an S3-compatible object store via minio-go.
// minio-go's client is already safe for concurrent blocking calls, so each
// AppendWAL simply performs its own PutObject and returns once the store
// has acknowledged it; there's no need for a dedicated writer goroutine the
// way FileBackend needs one to serialize access to a single file handle.
type S3Backend struct {
	Client   *minio.Client
	Bucket   string
	BasePath string

	mu       sync.Mutex
	walSeq   int
	walCache [][]byte // in-memory tail mirrored from every appended frame, replayed on ReplayWAL without a round trip
}

func NewS3Backend(client *minio.Client, bucket, basePath string) *S3Backend {
	return &S3Backend{Client: client, Bucket: bucket, BasePath: basePath}
}

func (b *S3Backend) key(name string) string {
	return path.Join(b.BasePath, name)
}

func (b *S3Backend) Init() error {
	ctx := context.Background()
	exists, err := b.Client.BucketExists(ctx, b.Bucket)
	if err != nil {
		return &errs.StorageError{Op: "init", Err: err}
	}
	if !exists {
		if err := b.Client.MakeBucket(ctx, b.Bucket, minio.MakeBucketOptions{}); err != nil {
			return &errs.StorageError{Op: "init", Err: err}
		}
	}
	return b.loadWALCache()
}

func (b *S3Backend) loadWALCache() error {
	ctx := context.Background()
	obj, err := b.Client.GetObject(ctx, b.Bucket, b.key(blobWAL), minio.GetObjectOptions{})
	if err != nil {
		return nil
	}
	defer obj.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.walCache = nil
	b.walSeq = 0
	return readFrames(obj, func(seq int, entry []byte) error {
		b.walCache = append(b.walCache, entry)
		b.walSeq = seq + 1
		return nil
	})
}

// AppendWAL rewrites the whole WAL object with the new frame appended. This
// trades write amplification for simplicity; the WAL is truncated on every
// snapshot, which bounds how large the object can grow between snapshots.
func (b *S3Backend) AppendWAL(entry []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.walCache = append(b.walCache, entry)

	var buf bytes.Buffer
	for _, frame := range b.walCache {
		writeFrame(&buf, frame)
	}

	ctx := context.Background()
	_, err := b.Client.PutObject(ctx, b.Bucket, b.key(blobWAL), &buf, int64(buf.Len()), minio.PutObjectOptions{})
	if err != nil {
		b.walCache = b.walCache[:len(b.walCache)-1]
		return &errs.StorageError{Op: "append_wal", Err: err}
	}
	b.walSeq++
	return nil
}

func (b *S3Backend) ReplayWAL(fn func(seq int, entry []byte) error) error {
	b.mu.Lock()
	cache := make([][]byte, len(b.walCache))
	copy(cache, b.walCache)
	b.mu.Unlock()

	for seq, entry := range cache {
		if err := fn(seq, entry); err != nil {
			return err
		}
	}
	return nil
}

func (b *S3Backend) TruncateWAL() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.walCache = nil
	b.walSeq = 0
	ctx := context.Background()
	err := b.Client.RemoveObject(ctx, b.Bucket, b.key(blobWAL), minio.RemoveObjectOptions{})
	if err != nil {
		return &errs.StorageError{Op: "truncate_wal", Err: err}
	}
	return nil
}

func (b *S3Backend) WriteSnapshot(data []byte, tx int64) error {
	ctx := context.Background()
	_, err := b.Client.PutObject(ctx, b.Bucket, b.key(blobSnapshot), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
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
	_, err = b.Client.PutObject(ctx, b.Bucket, b.key(blobMetadata), bytes.NewReader(meta), int64(len(meta)), minio.PutObjectOptions{})
	if err != nil {
		return &errs.StorageError{Op: "write_snapshot", Err: err}
	}
	return nil
}

func (b *S3Backend) ReadSnapshot() ([]byte, int64, bool, error) {
	ctx := context.Background()

	metaObj, err := b.Client.GetObject(ctx, b.Bucket, b.key(blobMetadata), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, false, nil
	}
	metaBytes, err := io.ReadAll(metaObj)
	metaObj.Close()
	if err != nil || len(metaBytes) == 0 {
		return nil, 0, false, nil
	}
	var meta snapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, 0, false, &errs.Corruption{Reason: "read_snapshot: cannot decode metadata: " + err.Error()}
	}
	if meta.Magic != snapshotMagic || meta.Version != snapshotFormatVersion {
		return nil, 0, false, &errs.Corruption{Reason: fmt.Sprintf("read_snapshot: unrecognized snapshot header %+v", meta)}
	}

	obj, err := b.Client.GetObject(ctx, b.Bucket, b.key(blobSnapshot), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, false, nil
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resErr, ok := err.(minio.ErrorResponse); ok && resErr.Code == "NoSuchKey" {
			return nil, 0, false, nil
		}
		return nil, 0, false, &errs.StorageError{Op: "read_snapshot", Err: err}
	}
	if len(data) == 0 {
		return nil, 0, false, nil
	}
	if len(data) != meta.Size {
		return nil, 0, false, &errs.Corruption{Reason: fmt.Sprintf("read_snapshot: body is %d bytes, header recorded %d", len(data), meta.Size)}
	}
	return data, meta.TxId, true, nil
}

func (b *S3Backend) Reset() error {
	ctx := context.Background()
	b.Client.RemoveObject(ctx, b.Bucket, b.key(blobWAL), minio.RemoveObjectOptions{})
	b.Client.RemoveObject(ctx, b.Bucket, b.key(blobSnapshot), minio.RemoveObjectOptions{})
	b.Client.RemoveObject(ctx, b.Bucket, b.key(blobMetadata), minio.RemoveObjectOptions{})

	b.mu.Lock()
	b.walCache = nil
	b.walSeq = 0
	b.mu.Unlock()
	return nil
}

func writeFrame(buf *bytes.Buffer, entry []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entry)))
	buf.Write(lenBuf[:])
	buf.Write(entry)
}

func readFrames(r io.Reader, fn func(seq int, entry []byte) error) error {
	br := bufio.NewReader(r)
	seq := 0
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				logger.Printf("truncated frame header at entry %d, stopping replay there", seq)
			}
			return nil
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			logger.Printf("truncated frame body at entry %d, stopping replay there", seq)
			return nil
		}
		if err := fn(seq, data); err != nil {
			return err
		}
		seq++
	}
}
