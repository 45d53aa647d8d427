package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

const (
	defaultPageSize = 100
	maxPages        = 200
	maxBodyBytes    = 32 << 20
)

// HTTPAdapter pulls the feed from an HTTP endpoint, paging with skip/take
// until a short or empty page. Every page after the first waits on the
// shared rate limiter.
type HTTPAdapter struct {
	baseURL  string
	pageSize int
	format   FeedFormat
	client   *http.Client
	limiter  domain.RateLimiter
	logger   *slog.Logger
}

// NewHTTPAdapter creates an HTTPAdapter. limiter may be nil.
func NewHTTPAdapter(baseURL string, pageSize int, format FeedFormat, client *http.Client, limiter domain.RateLimiter, logger *slog.Logger) *HTTPAdapter {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if format.Location == nil {
		format.Location = time.UTC
	}
	return &HTTPAdapter{
		baseURL:  baseURL,
		pageSize: pageSize,
		format:   format,
		client:   client,
		limiter:  limiter,
		logger:   logger,
	}
}

func newHTTPFromSpec(spec Spec, deps Deps) (domain.BookmakerAdapter, error) {
	if spec.URL == "" {
		return nil, errors.New("url is required")
	}
	if _, err := url.Parse(spec.URL); err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}
	loc, err := loadLocation(spec.Timezone)
	if err != nil {
		return nil, err
	}
	return NewHTTPAdapter(spec.URL, spec.PageSize, spec.format(loc), deps.HTTPClient, deps.Limiter, deps.Logger), nil
}

// Scrape fetches every page and decodes the rows.
func (a *HTTPAdapter) Scrape(ctx context.Context, bookmakerCode string) ([]domain.RawMatchRecord, error) {
	var all []domain.RawMatchRecord
	for page := 0; page < maxPages; page++ {
		if page > 0 && a.limiter != nil {
			if err := a.limiter.Wait(ctx, "feed:"+bookmakerCode); err != nil {
				return nil, domain.NewTransientError(bookmakerCode, err)
			}
		}

		body, err := a.fetch(ctx, bookmakerCode, page*a.pageSize)
		if err != nil {
			return nil, err
		}
		n, err := countRows(body)
		if err != nil {
			return nil, domain.NewSchemaError(bookmakerCode, err)
		}
		records, err := DecodeFeed(bookmakerCode, body, a.format, a.logger)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		if n < a.pageSize {
			return all, nil
		}
	}

	a.logger.WarnContext(ctx, "feed page limit reached",
		slog.String("bookmaker", bookmakerCode),
		slog.Int("pages", maxPages),
	)
	return all, nil
}

func (a *HTTPAdapter) fetch(ctx context.Context, code string, skip int) ([]byte, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, domain.NewSchemaError(code, fmt.Errorf("parse url: %w", err))
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(a.pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.NewSchemaError(code, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(code, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewTransientError(code, fmt.Errorf("read response: %w", err))
	}
	if err := classifyStatus(code, resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

// countRows reports the page length before row-level filtering so paging
// does not stop early when rows are dropped.
func countRows(body []byte) (int, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode page: %w", err)
	}
	return len(rows), nil
}

// classifyStatus maps an HTTP status to the adapter error taxonomy: 429 and
// 5xx are worth retrying, other failures mean the feed contract changed.
func classifyStatus(code string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewTransientError(code, fmt.Errorf("http status %d", status))
	default:
		return domain.NewSchemaError(code, fmt.Errorf("http status %d", status))
	}
}

var _ domain.BookmakerAdapter = (*HTTPAdapter)(nil)
