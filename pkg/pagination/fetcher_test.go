package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/close-api-client/internal/testutil"
	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport answers successive calls with the scripted responses.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []*client.Request
}

type scriptedResponse struct {
	body   string
	status int
	err    error
}

func (s *scriptedTransport) Do(ctx context.Context, req *client.Request) (*client.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("unexpected request")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	status := next.status
	if status == 0 {
		status = http.StatusOK
	}
	return &client.Response{StatusCode: status, Body: []byte(next.body)}, nil
}

func page(cursor string, ids ...string) scriptedResponse {
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = fmt.Sprintf(`{"id": %q}`, id)
	}
	c := "null"
	if cursor != "" {
		c = fmt.Sprintf("%q", cursor)
	}
	return scriptedResponse{body: fmt.Sprintf(`{"data": [%s], "cursor": %s}`, strings.Join(items, ","), c)}
}

func ids(records []record.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func newTestFetcher(transport client.Transport) *Fetcher {
	return NewFetcher(transport, DefaultConfig(), zerolog.Nop())
}

func TestFetchAll_PreservesPageOrder(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b"),
		page("c2", "c", "d"),
		page("", "e"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{
		ObjectType: "opportunity",
		Query:      map[string]any{"type": "match_all"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(records))
	assert.Len(t, transport.requests, 3, "stops after the page without cursor")
}

func TestFetchAll_SendsCursorAndProjection(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a"),
		page("", "b"),
	}}

	sort := SortBy("opportunity", "date_updated", "asc")
	_, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{
		ObjectType: "opportunity",
		Query:      ObjectTypeQuery("opportunity"),
		Sort:       sort,
		Fields:     []string{"id", "lead_id"},
		PageSize:   50,
	})
	require.NoError(t, err)
	require.Len(t, transport.requests, 2)

	first := decodeBody(t, transport.requests[0])
	assert.Equal(t, http.MethodPost, transport.requests[0].Method)
	assert.Equal(t, "data/search/", transport.requests[0].Path)
	assert.NotContains(t, first, "cursor")
	assert.NotContains(t, first, "results_limit")
	assert.EqualValues(t, 50, first["_limit"])
	assert.Equal(t, map[string]any{"opportunity": []any{"id", "lead_id"}}, first["_fields"])
	assert.Equal(t, map[string]any{"type": "object_type", "object_type": "opportunity"}, first["query"])
	assert.NotNil(t, first["sort"])

	second := decodeBody(t, transport.requests[1])
	assert.Equal(t, "c1", second["cursor"])
}

func decodeBody(t *testing.T, req *client.Request) map[string]any {
	t.Helper()
	data, err := json.Marshal(req.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFetchAll_ResultsLimitStopsEarly(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b", "c"),
		page("c2", "d", "e", "f"),
		page("", "g", "h", "i"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{
		ObjectType:   "lead",
		ResultsLimit: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(records))
	assert.Len(t, transport.requests, 2, "no request after the limit is satisfied")
	assert.EqualValues(t, 5, decodeBody(t, transport.requests[0])["results_limit"])
}

func TestFetchAll_ResultsLimitOnPageBoundary(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b", "c"),
		page("c2", "d", "e", "f"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{ResultsLimit: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
	assert.Len(t, transport.requests, 1)
}

func TestFetchAll_RepeatedCursor(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a"),
		page("c2", "b"),
		page("c1", "c"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Nil(t, records)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, []string{"a", "b"}, ids(fetchErr.Records), "the page repeating a cursor is not collected")
	assert.Len(t, transport.requests, 3, "no request is issued for the repeated cursor")
}

func TestPages_RepeatedCursorPageNotDelivered(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b"),
		page("c1", "a", "b"),
	}}

	var delivered []string
	err := newTestFetcher(transport).Pages(context.Background(), SearchRequest{}, func(p Page) error {
		delivered = append(delivered, ids(p.Records)...)
		return nil
	})
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, []string{"a", "b"}, delivered)
}

func TestPages_RepeatedCursorOnLastPageIsDone(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b"),
		page("c1", "c", "d"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{ResultsLimit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
}

func TestFetchAll_ErrorStatusWithoutTransportError(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a"),
		{status: http.StatusBadRequest, body: `{"errors": ["invalid cursor"]}`},
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Nil(t, records)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, client.ErrorClassValidation, apiErr.Class)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, []string{"a"}, ids(fetchErr.Records))
}

func TestFetchAll_SameCursorTwiceInARow(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a"),
		page("c1", "b"),
	}}

	_, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Len(t, transport.requests, 2)
}

func TestFetchAll_PageFailureAborts(t *testing.T) {
	apiErr := &client.APIError{StatusCode: 500, Class: client.ErrorClassServer}
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a", "b"),
		{err: apiErr},
		page("", "c"),
	}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Nil(t, records, "no partial result by default")

	var target *client.APIError
	assert.ErrorAs(t, err, &target)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, []string{"a", "b"}, ids(fetchErr.Records))
	assert.Len(t, transport.requests, 2)
}

func TestFetchAll_EmptyResult(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{page("")}}

	records, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchAll_NegativeLimit(t *testing.T) {
	transport := &scriptedTransport{}

	_, err := newTestFetcher(transport).FetchAll(context.Background(), SearchRequest{ResultsLimit: -1})
	assert.ErrorIs(t, err, ErrInvalidResultsLimit)
	assert.Empty(t, transport.requests)
}

func TestPages_CallbackErrorStops(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		page("c1", "a"),
		page("", "b"),
	}}
	stop := errors.New("stop")

	err := newTestFetcher(transport).Pages(context.Background(), SearchRequest{}, func(p Page) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Len(t, transport.requests, 1)
}

func TestFetchAll_AgainstMockServer(t *testing.T) {
	mock := testutil.NewMockClose()
	defer mock.Close()

	mock.SetSearchPages(
		testutil.MockPage{Records: []string{`{"id": "oppo_1", "lead_id": "lead_1"}`}, Cursor: "c1"},
		testutil.MockPage{Records: []string{`{"id": "oppo_2", "lead_id": "lead_1"}`}},
	)

	cfg := client.DefaultConfig("api_test_key")
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	require.NoError(t, err)

	records, err := newTestFetcher(c).FetchAll(context.Background(), SearchRequest{
		ObjectType: "opportunity",
		Query:      ObjectTypeQuery("opportunity"),
		Fields:     []string{"id", "lead_id"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"oppo_1", "oppo_2"}, ids(records))
	assert.Equal(t, "lead_1", records[1].GetString("lead_id"))
	assert.Equal(t, 2, mock.CountRoute("POST data/search/"))
}
