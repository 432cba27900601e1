// Package testpack loads problem test packs from object storage with a small LRU in front.
package testpack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Config controls the loader cache.
type Config struct {
	Bucket       string        `yaml:"bucket"`
	MaxEntries   int           `yaml:"maxEntries"`
	TTL          time.Duration `yaml:"ttl"`
	MaxPackBytes int64         `yaml:"maxPackBytes"`
}

func (c *Config) setDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 64
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.MaxPackBytes <= 0 {
		c.MaxPackBytes = 32 << 20
	}
}

type packEntry struct {
	etag      string
	pack      model.TestPack
	expiresAt time.Time
}

// Loader fetches test packs and caches them keyed by object key and ETag.
type Loader struct {
	storage storage.ObjectStorage
	cfg     Config
	decoder *zstd.Decoder
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*packEntry
	lruKeys []string
	now     func() time.Time
}

// NewLoader creates a loader over storageClient.
func NewLoader(storageClient storage.ObjectStorage, cfg Config) (*Loader, error) {
	if storageClient == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("test pack bucket is required")
	}
	cfg.setDefaults()
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(cfg.MaxPackBytes)))
	if err != nil {
		return nil, err
	}
	return &Loader{
		storage: storageClient,
		cfg:     cfg,
		decoder: dec,
		entries: make(map[string]*packEntry),
		now:     time.Now,
	}, nil
}

// Load returns the test pack stored under key.
// The object may be plain JSON or zstd-compressed JSON.
func (l *Loader) Load(ctx context.Context, key string) (model.TestPack, error) {
	if key == "" {
		return model.TestPack{}, appErr.ValidationError("test_pack_key", "required")
	}
	stat, err := l.storage.StatObject(ctx, l.cfg.Bucket, key)
	if err != nil {
		return model.TestPack{}, wrapStorageError(err, "stat test pack failed")
	}
	if stat.SizeBytes > l.cfg.MaxPackBytes {
		return model.TestPack{}, appErr.Newf(appErr.TestCaseTooLarge, "test pack is %d bytes", stat.SizeBytes)
	}

	if pack, ok := l.lookup(key, stat.ETag); ok {
		return pack, nil
	}

	v, err, _ := l.group.Do(key+"@"+stat.ETag, func() (interface{}, error) {
		if pack, ok := l.lookup(key, stat.ETag); ok {
			return pack, nil
		}
		pack, err := l.fetch(ctx, key)
		if err != nil {
			return model.TestPack{}, err
		}
		l.store(key, stat.ETag, pack)
		logger.Debug(ctx, "test pack loaded",
			zap.String("key", key),
			zap.String("etag", stat.ETag),
			zap.Int("tests", len(pack.Tests)),
		)
		return pack, nil
	})
	if err != nil {
		return model.TestPack{}, err
	}
	return clonePack(v.(model.TestPack)), nil
}

func (l *Loader) fetch(ctx context.Context, key string) (model.TestPack, error) {
	reader, err := l.storage.GetObject(ctx, l.cfg.Bucket, key)
	if err != nil {
		return model.TestPack{}, wrapStorageError(err, "open test pack failed")
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, l.cfg.MaxPackBytes+1))
	if err != nil {
		return model.TestPack{}, appErr.Wrapf(err, appErr.StorageError, "read test pack failed")
	}
	if int64(len(raw)) > l.cfg.MaxPackBytes {
		return model.TestPack{}, appErr.New(appErr.TestCaseTooLarge).WithMessage("test pack exceeds size limit")
	}
	if strings.HasSuffix(key, ".zst") || bytes.HasPrefix(raw, zstdMagic) {
		raw, err = l.decoder.DecodeAll(raw, nil)
		if err != nil {
			return model.TestPack{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decompress test pack failed")
		}
	}

	var pack model.TestPack
	if err := json.Unmarshal(raw, &pack); err != nil {
		return model.TestPack{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode test pack failed")
	}
	if len(pack.Tests) == 0 {
		return model.TestPack{}, appErr.New(appErr.TestCaseInvalid).WithMessage("test pack has no tests")
	}
	return pack, nil
}

func (l *Loader) lookup(key, etag string) (model.TestPack, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return model.TestPack{}, false
	}
	if entry.etag != etag || l.now().After(entry.expiresAt) {
		l.removeLocked(key)
		return model.TestPack{}, false
	}
	l.touchLocked(key)
	return clonePack(entry.pack), true
}

func (l *Loader) store(key, etag string, pack model.TestPack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = &packEntry{etag: etag, pack: pack, expiresAt: l.now().Add(l.cfg.TTL)}
	l.touchLocked(key)
	l.evictLocked()
}

// Len returns the number of cached packs.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Loader) touchLocked(key string) {
	for i, k := range l.lruKeys {
		if k == key {
			l.lruKeys = append(l.lruKeys[:i], l.lruKeys[i+1:]...)
			break
		}
	}
	l.lruKeys = append(l.lruKeys, key)
}

func (l *Loader) removeLocked(key string) {
	delete(l.entries, key)
	for i, k := range l.lruKeys {
		if k == key {
			l.lruKeys = append(l.lruKeys[:i], l.lruKeys[i+1:]...)
			return
		}
	}
}

func (l *Loader) evictLocked() {
	for len(l.entries) > l.cfg.MaxEntries && len(l.lruKeys) > 0 {
		oldest := l.lruKeys[0]
		l.lruKeys = l.lruKeys[1:]
		delete(l.entries, oldest)
	}
}

func clonePack(p model.TestPack) model.TestPack {
	tests := make([]model.TestCase, len(p.Tests))
	copy(tests, p.Tests)
	p.Tests = tests
	return p
}

func wrapStorageError(err error, msg string) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return appErr.Wrapf(err, appErr.TestCaseNotFound, "test pack not found")
	}
	return appErr.Wrapf(err, appErr.StorageError, "%s", msg)
}
