package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// statusPayload is the body returned by a bookmaker's market-status
// endpoint.
type statusPayload struct {
	Available       *bool  `json:"available"`
	Clock           string `json:"clock"`
	SuspendedReason string `json:"suspendedReason"`
	Ended           bool   `json:"ended"`
}

// HTTPStatusAdapter polls a bookmaker's market-status endpoint. The
// canonical event id is translated to the bookmaker-local id through the
// mapping store.
type HTTPStatusAdapter struct {
	baseURL  string
	mappings domain.MappingStore
	client   *http.Client
}

// NewHTTPStatusAdapter creates an HTTPStatusAdapter polling
// <baseURL>/<externalId>.
func NewHTTPStatusAdapter(baseURL string, mappings domain.MappingStore, client *http.Client) *HTTPStatusAdapter {
	return &HTTPStatusAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		mappings: mappings,
		client:   client,
	}
}

// PollStatus returns the current market status for eventID at the
// bookmaker.
func (a *HTTPStatusAdapter) PollStatus(ctx context.Context, eventID, bookmakerCode string) (domain.StatusReading, error) {
	extID, err := a.externalID(ctx, eventID, bookmakerCode)
	if err != nil {
		return domain.StatusReading{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+url.PathEscape(extID), nil)
	if err != nil {
		return domain.StatusReading{}, fmt.Errorf("adapter: status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.StatusReading{}, domain.NewTransientError(bookmakerCode, fmt.Errorf("status request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.StatusReading{}, domain.NewTransientError(bookmakerCode, fmt.Errorf("read status: %w", err))
	}
	if err := classifyStatus(bookmakerCode, resp.StatusCode); err != nil {
		return domain.StatusReading{}, err
	}

	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.StatusReading{}, domain.NewSchemaError(bookmakerCode, fmt.Errorf("decode status: %w", err))
	}
	return domain.StatusReading{
		Available: p.Available,
		Clock:     p.Clock,
		Reason:    p.SuspendedReason,
		Ended:     p.Ended,
	}, nil
}

func (a *HTTPStatusAdapter) externalID(ctx context.Context, eventID, code string) (string, error) {
	ms, err := a.mappings.ListByEvent(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("adapter: mappings for %s: %w", eventID, err)
	}
	for _, m := range ms {
		if m.BookmakerCode == code {
			return m.ExternalID, nil
		}
	}
	return "", fmt.Errorf("adapter: no %s mapping for event %s: %w", code, eventID, domain.ErrNotFound)
}

var _ domain.MarketStatusAdapter = (*HTTPStatusAdapter)(nil)
