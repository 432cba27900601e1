package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	reportContentType = "application/zstd"
	maxReportBytes    = 64 << 20
)

// ReportArchive stores zstd-compressed JSON reports in object storage.
type ReportArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewReportArchive creates an archive writing under bucket/prefix.
func NewReportArchive(storageClient storage.ObjectStorage, bucket, prefix string) (*ReportArchive, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("report bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxReportBytes))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	if prefix == "" {
		prefix = "reports"
	}
	return &ReportArchive{storage: storageClient, bucket: bucket, prefix: prefix, enc: enc, dec: dec}, nil
}

// KeyFor returns the object key for a report finished at finishedAt.
func (a *ReportArchive) KeyFor(submissionID string, finishedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json.zst", a.prefix, finishedAt.UTC().Format("2006/01/02"), submissionID)
}

// Save uploads report and returns its object key.
func (a *ReportArchive) Save(ctx context.Context, report model.JudgeReport) (string, error) {
	if report.SubmissionID == "" {
		return "", appErr.ValidationError("submission_id", "required")
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report failed: %w", err)
	}
	compressed := a.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	key := a.KeyFor(report.SubmissionID, time.Unix(report.FinishedAt, 0))
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), reportContentType); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "archive report failed")
	}
	return key, nil
}

// Load reads back a report saved under key.
func (a *ReportArchive) Load(ctx context.Context, key string) (model.JudgeReport, error) {
	if key == "" {
		return model.JudgeReport{}, appErr.ValidationError("report_key", "required")
	}
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return model.JudgeReport{}, appErr.Wrapf(err, appErr.ObjectNotFound, "report not found")
		}
		return model.JudgeReport{}, appErr.Wrapf(err, appErr.StorageError, "open report failed")
	}
	defer reader.Close()

	compressed, err := io.ReadAll(io.LimitReader(reader, maxReportBytes))
	if err != nil {
		return model.JudgeReport{}, appErr.Wrapf(err, appErr.StorageError, "read report failed")
	}
	raw, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return model.JudgeReport{}, appErr.Wrapf(err, appErr.StorageError, "decompress report failed")
	}
	var report model.JudgeReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return model.JudgeReport{}, appErr.Wrapf(err, appErr.StorageError, "decode report failed")
	}
	return report, nil
}
