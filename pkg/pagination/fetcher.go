package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination.
var (
	closePagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_pagination_pages_total",
		Help: "Total pages fetched by protocol",
	}, []string{"protocol"})

	closeRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_pagination_records_total",
		Help: "Total records collected by protocol",
	}, []string{"protocol"})

	closeProtocolViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_pagination_protocol_violations_total",
		Help: "Total fetches aborted because the server broke the paging contract",
	}, []string{"protocol"})
)

const (
	protocolCursor = "cursor"
	protocolSkip   = "skip"
)

var (
	// ErrProtocolViolation is returned when the server breaks the paging
	// contract, e.g. a cursor repeats. It is never retried.
	ErrProtocolViolation = errors.New("pagination protocol violation")

	// ErrInvalidResultsLimit is returned for a negative results limit.
	ErrInvalidResultsLimit = errors.New("results limit must be >= 0")
)

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the _limit sent when a request does not set its own.
	PageSize int

	// SearchPath is the cursor search endpoint.
	SearchPath string

	// PageTimeout bounds a single page request. Zero disables it.
	PageTimeout time.Duration
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:    100,
		SearchPath:  "data/search/",
		PageTimeout: 60 * time.Second,
	}
}

// SearchRequest describes one cursor search.
type SearchRequest struct {
	// ObjectType keys the _fields projection, e.g. "opportunity".
	ObjectType string

	// Query and Sort are passed to the API untouched.
	Query any
	Sort  any

	// Fields limits the returned fields; empty returns the API default.
	Fields []string

	// PageSize overrides Config.PageSize.
	PageSize int

	// ResultsLimit caps the total number of records; 0 means no cap.
	ResultsLimit int
}

// Page is one page of results. An empty Cursor marks the last page.
type Page struct {
	Records []record.Record
	Cursor  string
}

// FetchError reports an aborted fetch. Records holds what was collected
// before the fault, in order.
type FetchError struct {
	Records []record.Record
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch aborted after %d records: %v", len(e.Records), e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher pages through search and list endpoints.
type Fetcher struct {
	transport client.Transport
	config    Config
	logger    zerolog.Logger
}

// NewFetcher creates a new fetcher on top of transport.
func NewFetcher(transport client.Transport, config Config, logger zerolog.Logger) *Fetcher {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.SearchPath == "" {
		config.SearchPath = defaults.SearchPath
	}

	return &Fetcher{
		transport: transport,
		config:    config,
		logger:    logger.With().Str("component", "paginator").Logger(),
	}
}

type searchBody struct {
	Query        any                 `json:"query"`
	Sort         any                 `json:"sort,omitempty"`
	Fields       map[string][]string `json:"_fields,omitempty"`
	Limit        int                 `json:"_limit"`
	ResultsLimit int                 `json:"results_limit,omitempty"`
	Cursor       string              `json:"cursor,omitempty"`
}

type searchResponse struct {
	Data   []record.Record `json:"data"`
	Cursor *string         `json:"cursor"`
}

// FetchAll collects every record of a search, in server order. On failure
// it returns nil records and a *FetchError.
func (f *Fetcher) FetchAll(ctx context.Context, req SearchRequest) ([]record.Record, error) {
	start := time.Now()

	var records []record.Record
	err := f.Pages(ctx, req, func(p Page) error {
		records = append(records, p.Records...)
		return nil
	})
	if err != nil {
		return nil, &FetchError{Records: records, Err: err}
	}

	f.logger.Info().
		Str("object_type", req.ObjectType).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Search complete")

	return records, nil
}

// Pages requests the pages of a search in sequence and hands each one to fn.
// An error from fn stops the iteration and is returned as is.
func (f *Fetcher) Pages(ctx context.Context, req SearchRequest, fn func(Page) error) error {
	if req.ResultsLimit < 0 {
		return ErrInvalidResultsLimit
	}

	body := searchBody{
		Query:        req.Query,
		Sort:         req.Sort,
		Limit:        req.PageSize,
		ResultsLimit: req.ResultsLimit,
	}
	if body.Limit <= 0 {
		body.Limit = f.config.PageSize
	}
	if len(req.Fields) > 0 && req.ObjectType != "" {
		body.Fields = map[string][]string{req.ObjectType: req.Fields}
	}

	seen := make(map[string]struct{})
	collected := 0

	for pageNum := 1; ; pageNum++ {
		var resp searchResponse
		if err := f.call(ctx, &client.Request{
			Method: http.MethodPost,
			Path:   f.config.SearchPath,
			Body:   body,
		}, &resp); err != nil {
			return fmt.Errorf("fetch page %d: %w", pageNum, err)
		}
		closePagesTotal.WithLabelValues(protocolCursor).Inc()

		records := resp.Data
		if req.ResultsLimit > 0 && collected+len(records) > req.ResultsLimit {
			records = records[:req.ResultsLimit-collected]
		}
		collected += len(records)
		closeRecordsTotal.WithLabelValues(protocolCursor).Add(float64(len(records)))

		next := ""
		if resp.Cursor != nil {
			next = *resp.Cursor
		}

		f.logger.Debug().
			Int("page", pageNum).
			Int("records", len(records)).
			Int("collected", collected).
			Bool("has_next", next != "").
			Msg("Search page fetched")

		done := next == "" || (req.ResultsLimit > 0 && collected >= req.ResultsLimit)

		// A page that repeats a cursor is not delivered.
		if _, repeated := seen[next]; repeated && !done {
			closeProtocolViolationsTotal.WithLabelValues(protocolCursor).Inc()
			f.logger.Error().
				Int("page", pageNum).
				Str("cursor", next).
				Msg("Search cursor repeated")
			return fmt.Errorf("%w: cursor %q repeated on page %d", ErrProtocolViolation, next, pageNum)
		}

		if err := fn(Page{Records: records, Cursor: next}); err != nil {
			return err
		}
		if done {
			return nil
		}
		seen[next] = struct{}{}
		body.Cursor = next
	}
}

// call issues one page request with the per-page timeout and decodes the body.
func (f *Fetcher) call(ctx context.Context, req *client.Request, out any) error {
	if f.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.PageTimeout)
		defer cancel()
	}

	resp, err := f.transport.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := client.CheckResponse(req.Method, req.Path, resp); err != nil {
		return err
	}
	return client.DecodeJSON(resp, out)
}
