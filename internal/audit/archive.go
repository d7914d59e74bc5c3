package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/pkg/storage"
)

const archivePageSize = 500

// ObjectStore receives archive snapshots.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignDownload(ctx context.Context, key string) (string, error)
}

// ArchiveResult describes an uploaded snapshot.
type ArchiveResult struct {
	Key     string
	Entries int
	URL     string
}

// Archiver exports a window of the trail as JSON lines.
type Archiver struct {
	store   Store
	objects ObjectStore
	logger  *zap.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(store Store, objects ObjectStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, objects: objects, logger: logger}
}

// Archive uploads every entry with since <= createdAt < until, newest first.
func (a *Archiver) Archive(ctx context.Context, since, until time.Time) (*ArchiveResult, error) {
	if !until.After(since) {
		return nil, apperr.Validation("audit.Archive", "until must be after since")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for offset := 0; ; offset += archivePageSize {
		page, err := a.store.List(ctx, Filter{Since: &since, Until: &until, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("read audit page at %d: %w", offset, err)
		}
		for i := range page {
			if err := enc.Encode(&page[i]); err != nil {
				return nil, fmt.Errorf("encode audit entry: %w", err)
			}
		}
		count += len(page)
		if len(page) < archivePageSize {
			break
		}
	}

	key := storage.AuditArchiveKey(since, until)
	if err := a.objects.Upload(ctx, key, "application/x-ndjson", &buf); err != nil {
		return nil, err
	}
	res := &ArchiveResult{Key: key, Entries: count}
	url, err := a.objects.PresignDownload(ctx, key)
	if err != nil {
		a.logger.Warn("presign archive failed", zap.String("key", key), zap.Error(err))
	} else {
		res.URL = url
	}
	a.logger.Info("audit archive uploaded", zap.String("key", key), zap.Int("entries", count))
	return res, nil
}
