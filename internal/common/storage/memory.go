package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage is an in-process ObjectStorage used for local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	etag        string
	contentType string
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (s *MemoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, objectKey, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sizeBytes >= 0 {
		reader = io.LimitReader(reader, sizeBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	s.mu.Lock()
	s.objects[bucket+"/"+objectKey] = memoryObject{
		data:        data,
		etag:        hex.EncodeToString(sum[:]),
		contentType: contentType,
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	if err := ctx.Err(); err != nil {
		return ObjectStat{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+objectKey]
	s.mu.RUnlock()
	if !ok {
		return ObjectStat{}, fmt.Errorf("stat %s/%s: %w", bucket, objectKey, ErrObjectNotFound)
	}
	return ObjectStat{SizeBytes: int64(len(obj.data)), ETag: obj.etag, ContentType: obj.contentType}, nil
}
