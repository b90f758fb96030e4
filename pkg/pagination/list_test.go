package pagination

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listPage(hasMore bool, ids ...string) scriptedResponse {
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = fmt.Sprintf(`{"id": %q}`, id)
	}
	return scriptedResponse{body: fmt.Sprintf(`{"data": [%s], "has_more": %t}`, strings.Join(items, ","), hasMore)}
}

func TestListAll_FollowsHasMore(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		listPage(true, "u1", "u2"),
		listPage(false, "u3"),
	}}

	records, err := newTestFetcher(transport).ListAll(context.Background(), ListRequest{
		Path:     "user/",
		PageSize: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "u2", "u3"}, ids(records))
	require.Len(t, transport.requests, 2)
	assert.Equal(t, "0", transport.requests[0].Query.Get("_skip"))
	assert.Equal(t, "2", transport.requests[0].Query.Get("_limit"))
	assert.Equal(t, "2", transport.requests[1].Query.Get("_skip"))
}

func TestListAll_KeepsCallerQuery(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{listPage(false, "acti_1")}}

	_, err := newTestFetcher(transport).ListAll(context.Background(), ListRequest{
		Path:  "activity/custom/",
		Query: map[string][]string{"custom_activity_type_id": {"actitype_1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "actitype_1", transport.requests[0].Query.Get("custom_activity_type_id"))
}

func TestListAll_Limit(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		listPage(true, "a", "b"),
		listPage(true, "c", "d"),
	}}

	records, err := newTestFetcher(transport).ListAll(context.Background(), ListRequest{Path: "user/", Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
	assert.Len(t, transport.requests, 2)
}

func TestListAll_EmptyPageWithHasMore(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		listPage(true, "a"),
		listPage(true),
	}}

	_, err := newTestFetcher(transport).ListAll(context.Background(), ListRequest{Path: "user/"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestListAll_ErrorStatusWithoutTransportError(t *testing.T) {
	transport := &scriptedTransport{responses: []scriptedResponse{
		listPage(true, "u1"),
		{status: http.StatusServiceUnavailable, body: `{"data": [], "has_more": false}`},
	}}

	records, err := newTestFetcher(transport).ListAll(context.Background(), ListRequest{Path: "user/", PageSize: 1})
	require.Error(t, err)
	assert.Nil(t, records)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, client.ErrorClassServer, apiErr.Class)
}
