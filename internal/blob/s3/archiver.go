package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// in parts.
const multipartThreshold = 64 << 20

// HistorySources are the append-only stores the archiver reads.
type HistorySources struct {
	Odds       domain.OddsHistoryStore
	Margins    domain.TournamentMarginStore
	Heartbeats domain.HeartbeatStore
}

// Archiver implements domain.Archiver. Each kind of history keeps a
// watermark object holding the cutoff of its last successful run, so a run
// only uploads rows in [watermark, cutoff). Rows stay in the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	sources HistorySources
	audit   domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, sources HistorySources, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, sources: sources, audit: audit}
}

// ArchiveOddsHistory uploads odds history recorded before the cutoff.
func (a *Archiver) ArchiveOddsHistory(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "odds_history", before,
		a.sources.Odds.ListBefore,
		func(h domain.OddsHistoryEntry) time.Time { return h.RecordedAt })
}

// ArchiveTournamentMargins uploads tournament margin points recorded before
// the cutoff.
func (a *Archiver) ArchiveTournamentMargins(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "tournament_margins", before,
		a.sources.Margins.ListBefore,
		func(p domain.TournamentMarginPoint) time.Time { return p.RecordedAt })
}

// ArchiveHeartbeatSamples uploads heartbeat samples taken before the cutoff.
func (a *Archiver) ArchiveHeartbeatSamples(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "heartbeat_samples", before,
		a.sources.Heartbeats.ListSamplesBefore,
		func(s domain.HeartbeatSample) time.Time { return s.SampledAt })
}

func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(context.Context, time.Time) ([]T, error),
	at func(T) time.Time,
) (int64, error) {
	since, err := a.watermark(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !since.Before(before) {
		return 0, nil
	}

	rows, err := list(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	var fresh []T
	for _, r := range rows {
		if !at(r).Before(since) {
			fresh = append(fresh, r)
		}
	}

	count := int64(len(fresh))
	var path string
	if count > 0 {
		buf, err := marshalJSONL(fresh)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		path = archivePath(kind, before)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
	}

	mark := strings.NewReader(before.UTC().Format(time.RFC3339Nano))
	if err := a.writer.Put(ctx, watermarkPath(kind), mark, "text/plain"); err != nil {
		return count, fmt.Errorf("s3blob: archive %s watermark: %w", kind, err)
	}

	if a.audit != nil && count > 0 {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"since":  since.Format(time.RFC3339),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// watermark returns the cutoff of the last run for kind, or the zero time.
func (a *Archiver) watermark(ctx context.Context, kind string) (time.Time, error) {
	rc, err := a.reader.Get(ctx, watermarkPath(kind))
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 128))
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark: %w", err)
	}
	return t, nil
}

// archivePath partitions archives by cutoff month:
//
//	archive/odds_history/2025-01/2025-01-31T030000Z-<uuid>.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%s.jsonl",
		kind, before.Format("2006-01"), before.Format("2006-01-02T150405Z"), uuid.NewString())
}

func watermarkPath(kind string) string {
	return fmt.Sprintf("archive/%s/_watermark", kind)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
