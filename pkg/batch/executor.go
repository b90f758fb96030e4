package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch writes.
var (
	batchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_batch_requests_total",
		Help: "Total batch write requests by operation and outcome",
	}, []string{"op", "outcome"})

	batchSliceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "close_batch_slice_duration_seconds",
		Help:    "Time for all requests of one slice to settle, by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})
)

// Executor runs batch writes against a Transport.
type Executor struct {
	transport client.Transport
	logger    zerolog.Logger
}

// NewExecutor creates a batch executor.
func NewExecutor(transport client.Transport, logger zerolog.Logger) *Executor {
	return &Executor{
		transport: transport,
		logger:    logger.With().Str("component", "batch-executor").Logger(),
	}
}

// Update sends one PUT per request with its payload.
func (e *Executor) Update(ctx context.Context, requests []WriteRequest, opts Options) (*Result, error) {
	return e.Execute(ctx, OpUpdate, requests, opts)
}

// Delete sends one DELETE per target.
func (e *Executor) Delete(ctx context.Context, targets []string, opts Options) (*Result, error) {
	requests := make([]WriteRequest, len(targets))
	for i, target := range targets {
		requests[i] = WriteRequest{Target: target}
	}
	return e.Execute(ctx, OpDelete, requests, opts)
}

// Execute runs requests slice by slice and returns one outcome per request.
// The error is non-nil only for invalid options, in which case nothing is
// sent.
//
// Cancelling ctx, like a fail-fast stop, prevents further slices from
// starting. Requests already in flight run to completion or to
// Options.Timeout, since the API may have applied a write whose response
// was abandoned.
func (e *Executor) Execute(ctx context.Context, op Op, requests []WriteRequest, opts Options) (*Result, error) {
	method, err := op.method()
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	result := &Result{
		Successes: []Success{},
		Failures:  []Failure{},
	}
	if len(requests) == 0 {
		return result, nil
	}

	// Payloads are copied so callers may reuse theirs while the batch runs.
	pending := make([]WriteRequest, len(requests))
	for i, req := range requests {
		pending[i] = WriteRequest{Target: req.Target}
		if op == OpUpdate && req.Payload != nil {
			pending[i].Payload = req.Payload.Clone()
		}
	}

	concurrency := opts.MaxConcurrency
	if concurrency == 0 || concurrency > opts.SliceSize {
		concurrency = opts.SliceSize
	}
	slices := (len(pending) + opts.SliceSize - 1) / opts.SliceSize

	start := time.Now()
	e.logger.Info().
		Str("op", string(op)).
		Int("requests", len(pending)).
		Int("slices", slices).
		Int("concurrency", concurrency).
		Bool("fail_fast", opts.FailFast).
		Msg("Starting batch")

	c := &collector{result: result, onOutcome: opts.OnOutcome}

	for sliceNum := 0; sliceNum < slices; sliceNum++ {
		from := sliceNum * opts.SliceSize
		to := min(from+opts.SliceSize, len(pending))

		if reason := stopReason(ctx, opts, c); reason != "" {
			e.logger.Warn().
				Str("op", string(op)).
				Str("reason", reason).
				Int("slice", sliceNum+1).
				Int("not_dispatched", len(pending)-from).
				Msg("Stopping batch")
			for _, req := range pending[from:] {
				c.add(op, nil, &Failure{
					Target:  req.Target,
					Payload: req.Payload,
					Kind:    FailureNotDispatched,
					Err:     fmt.Errorf("%w: %s", ErrNotDispatched, reason),
				})
			}
			break
		}

		sliceStart := time.Now()
		e.runSlice(ctx, op, method, pending[from:to], concurrency, opts.Timeout, c)
		batchSliceDuration.WithLabelValues(string(op)).Observe(time.Since(sliceStart).Seconds())

		e.logger.Debug().
			Int("slice", sliceNum+1).
			Int("of", slices).
			Int("requests", to-from).
			Dur("duration", time.Since(sliceStart)).
			Msg("Slice settled")
	}

	e.logger.Info().
		Str("op", string(op)).
		Int("succeeded", len(result.Successes)).
		Int("failed", len(result.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return result, nil
}

// stopReason reports why no further slice may start, or "" to continue.
func stopReason(ctx context.Context, opts Options, c *collector) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	if opts.FailFast && c.failed() {
		return "fail fast after failure"
	}
	return ""
}

// runSlice dispatches one slice with at most concurrency requests in flight
// and returns when all of them have settled.
func (e *Executor) runSlice(ctx context.Context, op Op, method string, slice []WriteRequest, concurrency int, timeout time.Duration, c *collector) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, req := range slice {
		wg.Add(1)
		go func(req WriteRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success, failure := e.dispatch(ctx, method, req, timeout)
			if failure != nil {
				e.logger.Warn().
					Err(failure.Err).
					Str("target", failure.Target).
					Str("kind", string(failure.Kind)).
					Msg("Write failed")
			}
			c.add(op, success, failure)
		}(req)
	}

	wg.Wait()
}

// dispatch performs one write. In-flight writes are detached from ctx
// cancellation and bounded by timeout instead.
func (e *Executor) dispatch(ctx context.Context, method string, req WriteRequest, timeout time.Duration) (*Success, *Failure) {
	if req.Target == "" {
		return nil, &Failure{Payload: req.Payload, Kind: FailureTransport, Err: ErrEmptyTarget}
	}

	reqCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, timeout)
		defer cancel()
	}

	apiReq := &client.Request{Method: method, Path: req.Target}
	if req.Payload != nil {
		apiReq.Body = req.Payload
	}

	resp, err := e.transport.Do(reqCtx, apiReq)
	if err == nil {
		err = client.CheckResponse(method, req.Target, resp)
	}
	if err != nil {
		return nil, classify(req, err)
	}

	rec := record.New()
	if resp != nil && len(resp.Body) > 0 {
		decoded, err := record.Decode(resp.Body)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("target", req.Target).
				Msg("Write succeeded but response is not a JSON object")
		} else {
			rec = decoded
		}
	}
	return &Success{Target: req.Target, Record: rec}, nil
}

// classify turns a transport error into a failure of req.
func classify(req WriteRequest, err error) *Failure {
	failure := &Failure{
		Target:  req.Target,
		Payload: req.Payload,
		Kind:    FailureTransport,
		Err:     err,
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Class == client.ErrorClassValidation {
		failure.Kind = FailureValidation
		failure.Detail = apiErr.Validation
	}
	return failure
}

// collector appends outcomes in arrival order.
type collector struct {
	mu        sync.Mutex
	result    *Result
	onOutcome func(Outcome)
}

func (c *collector) add(op Op, success *Success, failure *Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if failure != nil {
		c.result.Failures = append(c.result.Failures, *failure)
		batchRequestsTotal.WithLabelValues(string(op), string(failure.Kind)).Inc()
	} else {
		c.result.Successes = append(c.result.Successes, *success)
		batchRequestsTotal.WithLabelValues(string(op), "success").Inc()
	}

	if c.onOutcome != nil {
		c.onOutcome(Outcome{Success: success, Failure: failure})
	}
}

func (c *collector) failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.result.Failures) > 0
}
