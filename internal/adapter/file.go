package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// FileAdapter reads the feed a scraper wrote to disk.
type FileAdapter struct {
	path   string
	format FeedFormat
	logger *slog.Logger
}

// NewFileAdapter creates a FileAdapter reading path in the given format.
func NewFileAdapter(path string, format FeedFormat, logger *slog.Logger) *FileAdapter {
	return &FileAdapter{path: path, format: format, logger: logger}
}

func newFileFromSpec(spec Spec, deps Deps) (domain.BookmakerAdapter, error) {
	if spec.Path == "" {
		return nil, errors.New("path is required")
	}
	loc, err := loadLocation(spec.Timezone)
	if err != nil {
		return nil, err
	}
	return NewFileAdapter(spec.Path, spec.format(loc), deps.Logger), nil
}

// Scrape reads and decodes the file. A missing or unreadable file is
// transient since the scraper may not have written it yet.
func (a *FileAdapter) Scrape(ctx context.Context, bookmakerCode string) ([]domain.RawMatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransientError(bookmakerCode, err)
	}
	body, err := os.ReadFile(a.path)
	if err != nil {
		return nil, domain.NewTransientError(bookmakerCode, fmt.Errorf("read %s: %w", a.path, err))
	}
	return DecodeFeed(bookmakerCode, body, a.format, a.logger)
}

var _ domain.BookmakerAdapter = (*FileAdapter)(nil)
