package pagination

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
)

// ListRequest describes a skip/limit list endpoint, e.g. "user/".
type ListRequest struct {
	Path  string
	Query url.Values

	// PageSize overrides Config.PageSize.
	PageSize int

	// Limit caps the total number of records; 0 means no cap.
	Limit int
}

type listResponse struct {
	Data    []record.Record `json:"data"`
	HasMore bool            `json:"has_more"`
}

// ListAll collects every record of a skip/limit endpoint, in server order.
// On failure it returns nil records and a *FetchError.
func (f *Fetcher) ListAll(ctx context.Context, req ListRequest) ([]record.Record, error) {
	if req.Limit < 0 {
		return nil, ErrInvalidResultsLimit
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = f.config.PageSize
	}

	var records []record.Record
	for pageNum := 1; ; pageNum++ {
		query := url.Values{}
		for k, vs := range req.Query {
			query[k] = append([]string(nil), vs...)
		}
		query.Set("_skip", strconv.Itoa(len(records)))
		query.Set("_limit", strconv.Itoa(pageSize))

		var resp listResponse
		if err := f.call(ctx, &client.Request{Method: http.MethodGet, Path: req.Path, Query: query}, &resp); err != nil {
			return nil, &FetchError{Records: records, Err: fmt.Errorf("list %s page %d: %w", req.Path, pageNum, err)}
		}
		closePagesTotal.WithLabelValues(protocolSkip).Inc()

		page := resp.Data
		if req.Limit > 0 && len(records)+len(page) > req.Limit {
			page = page[:req.Limit-len(records)]
		}
		records = append(records, page...)
		closeRecordsTotal.WithLabelValues(protocolSkip).Add(float64(len(page)))

		if !resp.HasMore || (req.Limit > 0 && len(records) >= req.Limit) {
			break
		}
		if len(resp.Data) == 0 {
			closeProtocolViolationsTotal.WithLabelValues(protocolSkip).Inc()
			return nil, &FetchError{Records: records, Err: fmt.Errorf(
				"%w: %s reported has_more with an empty page %d", ErrProtocolViolation, req.Path, pageNum)}
		}
	}

	f.logger.Debug().
		Str("path", req.Path).
		Int("records", len(records)).
		Msg("List complete")

	return records, nil
}
