package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned (wrapped) when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the object operations the judge pipeline needs:
// reading sources and test packs, archiving reports.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// PutObject uploads size bytes from reader. A size of -1 streams until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat contains object metadata used for cache validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
