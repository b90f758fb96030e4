package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/close-api-client/internal/testutil"
	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers writes through respond and tracks concurrency.
type fakeTransport struct {
	respond func(req *client.Request) (*client.Response, error)
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	calls []*client.Request
}

func (f *fakeTransport) Do(ctx context.Context, req *client.Request) (*client.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if n <= prev || f.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.respond != nil {
		return f.respond(req)
	}
	return echo(req)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

func echo(req *client.Request) (*client.Response, error) {
	return &client.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(fmt.Sprintf(`{"id": %q}`, req.Path)),
	}, nil
}

func makeRequests(n int) []WriteRequest {
	requests := make([]WriteRequest, n)
	for i := range requests {
		requests[i] = WriteRequest{
			Target:  fmt.Sprintf("opportunity/oppo_%02d/", i),
			Payload: record.New().Set("status_id", record.String("stat_lost")),
		}
	}
	return requests
}

func newTestExecutor(transport client.Transport) *Executor {
	return NewExecutor(transport, zerolog.Nop())
}

func TestExecute_OneOutcomePerRequest(t *testing.T) {
	transport := &fakeTransport{respond: func(req *client.Request) (*client.Response, error) {
		if req.Path == "opportunity/oppo_03/" || req.Path == "opportunity/oppo_07/" {
			return nil, errors.New("connection reset")
		}
		return echo(req)
	}}
	requests := makeRequests(12)

	result, err := newTestExecutor(transport).Update(context.Background(), requests, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, len(requests), result.Total())
	assert.Len(t, result.Successes, 10)
	assert.Len(t, result.Failures, 2)
	assert.Equal(t, "10 succeeded, 2 failed", result.Summary())

	seen := make(map[string]int)
	for _, s := range result.Successes {
		seen[s.Target]++
		assert.Equal(t, s.Target, s.Record.ID(), "success carries its own response")
	}
	for _, f := range result.Failures {
		seen[f.Target]++
		assert.Equal(t, FailureTransport, f.Kind)
		assert.Equal(t, "stat_lost", f.Payload.GetString("status_id"))
	}
	for _, req := range requests {
		assert.Equal(t, 1, seen[req.Target], req.Target)
	}
}

func TestExecute_SlicesAreSequential(t *testing.T) {
	var (
		mu       sync.Mutex
		settled  int
		violated []string
	)
	transport := &fakeTransport{delay: 5 * time.Millisecond}
	observed := &observingTransport{
		next: transport,
		before: func(req *client.Request) {
			var idx int
			fmt.Sscanf(req.Path, "opportunity/oppo_%d/", &idx)
			mu.Lock()
			defer mu.Unlock()
			// Every request of the previous slices must have settled.
			if settled < idx/10*10 {
				violated = append(violated, req.Path)
			}
		},
		after: func() {
			mu.Lock()
			settled++
			mu.Unlock()
		},
	}

	opts := DefaultOptions()
	opts.SliceSize = 10

	result, err := newTestExecutor(observed).Update(context.Background(), makeRequests(23), opts)
	require.NoError(t, err)

	assert.Len(t, result.Successes, 23)
	assert.Empty(t, violated, "requests started before the previous slice settled")
	assert.Equal(t, 23, transport.callCount())
	assert.LessOrEqual(t, transport.maxInFlight.Load(), int32(10))
}

// observingTransport calls before and after around every request.
type observingTransport struct {
	next   client.Transport
	before func(req *client.Request)
	after  func()
}

func (o *observingTransport) Do(ctx context.Context, req *client.Request) (*client.Response, error) {
	o.before(req)
	defer o.after()
	return o.next.Do(ctx, req)
}

func TestExecute_MaxConcurrency(t *testing.T) {
	transport := &fakeTransport{delay: 5 * time.Millisecond}
	opts := DefaultOptions()
	opts.MaxConcurrency = 3

	result, err := newTestExecutor(transport).Update(context.Background(), makeRequests(10), opts)
	require.NoError(t, err)

	assert.Len(t, result.Successes, 10)
	assert.LessOrEqual(t, transport.maxInFlight.Load(), int32(3))
}

func TestExecute_FailFast(t *testing.T) {
	transport := &fakeTransport{
		delay: 5 * time.Millisecond,
		respond: func(req *client.Request) (*client.Response, error) {
			if req.Path == "opportunity/oppo_01/" {
				return nil, &client.APIError{StatusCode: 500, Class: client.ErrorClassServer}
			}
			return echo(req)
		},
	}
	opts := DefaultOptions()
	opts.FailFast = true

	result, err := newTestExecutor(transport).Update(context.Background(), makeRequests(23), opts)
	require.NoError(t, err)

	assert.Equal(t, 10, transport.callCount(), "only the first slice is dispatched")
	assert.Equal(t, 23, result.Total())
	assert.Len(t, result.Successes, 9, "the rest of slice 1 still completes")

	kinds := result.FailuresByKind()
	assert.Equal(t, 1, kinds[FailureTransport])
	assert.Equal(t, 13, kinds[FailureNotDispatched])

	for _, f := range result.Failures {
		if f.Kind == FailureNotDispatched {
			assert.ErrorIs(t, f.Err, ErrNotDispatched)
		}
	}
	for _, target := range transport.targets() {
		var idx int
		fmt.Sscanf(target, "opportunity/oppo_%d/", &idx)
		assert.Less(t, idx, 10, target)
	}
}

func TestExecute_WithoutFailFastContinues(t *testing.T) {
	transport := &fakeTransport{respond: func(req *client.Request) (*client.Response, error) {
		if req.Path == "opportunity/oppo_01/" {
			return nil, errors.New("timeout")
		}
		return echo(req)
	}}

	result, err := newTestExecutor(transport).Update(context.Background(), makeRequests(23), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 23, transport.callCount())
	assert.Len(t, result.Failures, 1)
}

func TestExecute_CancelledContextStopsSlices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	transport := &fakeTransport{respond: func(req *client.Request) (*client.Response, error) {
		once.Do(cancel)
		return echo(req)
	}}

	result, err := newTestExecutor(transport).Update(ctx, makeRequests(25), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 10, transport.callCount())
	assert.Len(t, result.Successes, 10, "in-flight requests are not cancelled")
	assert.Equal(t, 15, result.FailuresByKind()[FailureNotDispatched])
}

func TestExecute_EmptyInput(t *testing.T) {
	transport := &fakeTransport{}

	result, err := newTestExecutor(transport).Update(context.Background(), nil, DefaultOptions())
	require.NoError(t, err)

	assert.Empty(t, result.Successes)
	assert.Empty(t, result.Failures)
	assert.Zero(t, transport.callCount())
}

func TestExecute_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		opts Options
		want error
	}{
		{"zero slice size", OpUpdate, Options{SliceSize: 0}, ErrInvalidSliceSize},
		{"negative slice size", OpDelete, Options{SliceSize: -1}, ErrInvalidSliceSize},
		{"negative concurrency", OpUpdate, Options{SliceSize: 10, MaxConcurrency: -1}, ErrInvalidConcurrency},
		{"unknown op", "merge", DefaultOptions(), ErrUnsupportedOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{}
			result, err := newTestExecutor(transport).Execute(context.Background(), tt.op, makeRequests(3), tt.opts)

			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, result)
			assert.Zero(t, transport.callCount())
		})
	}
}

func TestExecute_PayloadIsCopied(t *testing.T) {
	transport := &fakeTransport{}
	requests := makeRequests(1)

	_, err := newTestExecutor(transport).Update(context.Background(), requests, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 1, transport.callCount())
	sent, ok := transport.calls[0].Body.(*record.Fields)
	require.True(t, ok)
	assert.NotSame(t, requests[0].Payload, sent)
	assert.True(t, requests[0].Payload.Equal(sent))
}

func TestExecute_OnOutcome(t *testing.T) {
	var calls atomic.Int32
	opts := DefaultOptions()
	opts.OnOutcome = func(o Outcome) {
		calls.Add(1)
		if (o.Success == nil) == (o.Failure == nil) {
			t.Error("exactly one of Success and Failure must be set")
		}
	}

	_, err := newTestExecutor(&fakeTransport{}).Update(context.Background(), makeRequests(7), opts)
	require.NoError(t, err)
	assert.Equal(t, int32(7), calls.Load())
}

func TestExecute_AgainstMockServer(t *testing.T) {
	mock := testutil.NewMockClose()
	defer mock.Close()

	mock.SetResponse("PUT opportunity/oppo_ok/", testutil.NewJSONResponse(http.StatusOK,
		`{"id": "oppo_ok", "status_id": "stat_lost", "lead_id": "lead_1"}`))
	mock.SetResponse("PUT opportunity/oppo_bad/", testutil.NewValidationErrorResponse(
		[]string{"Invalid status"}, map[string]string{"status_id": "Unknown status."}))
	mock.SetResponse("PUT opportunity/oppo_gone/", testutil.NewJSONResponse(http.StatusNotFound,
		`{"error": "Not found"}`))

	cfg := client.DefaultConfig("api_test_key")
	cfg.BaseURL = mock.URL()
	cfg.MaxRetries = 0
	c, err := client.New(cfg)
	require.NoError(t, err)

	payload := record.New().Set("status_id", record.String("stat_lost"))
	requests := []WriteRequest{
		{Target: "opportunity/oppo_ok/", Payload: payload},
		{Target: "opportunity/oppo_bad/", Payload: payload},
		{Target: "opportunity/oppo_gone/", Payload: payload},
	}

	result, err := newTestExecutor(c).Update(context.Background(), requests, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, result.Successes, 1)
	assert.Equal(t, "lead_1", result.Successes[0].Record.GetString("lead_id"))

	require.Len(t, result.Failures, 2)
	byTarget := map[string]Failure{}
	for _, f := range result.Failures {
		byTarget[f.Target] = f
	}

	bad := byTarget["opportunity/oppo_bad/"]
	assert.Equal(t, FailureValidation, bad.Kind)
	require.NotNil(t, bad.Detail)
	assert.Equal(t, []string{"Invalid status"}, bad.Detail.Errors)
	assert.Equal(t, "Unknown status.", bad.Detail.FieldErrors["status_id"])
	assert.Equal(t, "Invalid status; status_id: Unknown status.", bad.Message())

	gone := byTarget["opportunity/oppo_gone/"]
	assert.Equal(t, FailureTransport, gone.Kind)
	assert.True(t, client.IsNotFound(gone.Err))

	for _, req := range mock.Requests() {
		assert.JSONEq(t, `{"status_id": "stat_lost"}`, string(req.Body))
	}
}

func TestDelete(t *testing.T) {
	transport := &fakeTransport{respond: func(req *client.Request) (*client.Response, error) {
		return &client.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
	}}

	result, err := newTestExecutor(transport).Delete(context.Background(),
		[]string{"lead/lead_1/", "lead/lead_2/"}, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, result.Successes, 2)
	for _, call := range transport.calls {
		assert.Equal(t, http.MethodDelete, call.Method)
		assert.Nil(t, call.Body)
	}
}

func TestExecute_ErrorStatusWithoutTransportError(t *testing.T) {
	transport := &fakeTransport{respond: func(req *client.Request) (*client.Response, error) {
		if req.Path == "lead/lead_down/" {
			return &client.Response{StatusCode: http.StatusBadGateway, Body: []byte(`<html>`)}, nil
		}
		return &client.Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"errors": ["bad"]}`)}, nil
	}}

	requests := []WriteRequest{
		{Target: "lead/lead_1/", Payload: record.New().Set("name", record.String("x"))},
		{Target: "lead/lead_down/", Payload: record.New().Set("name", record.String("y"))},
	}

	result, err := newTestExecutor(transport).Update(context.Background(), requests, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Successes)
	require.Len(t, result.Failures, 2)

	byTarget := map[string]Failure{}
	for _, f := range result.Failures {
		byTarget[f.Target] = f
	}

	rejected := byTarget["lead/lead_1/"]
	assert.Equal(t, FailureValidation, rejected.Kind)
	assert.Equal(t, "bad", rejected.Message())

	down := byTarget["lead/lead_down/"]
	assert.Equal(t, FailureTransport, down.Kind)
	var apiErr *client.APIError
	require.ErrorAs(t, down.Err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
