package batch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/record"
)

var (
	// ErrInvalidSliceSize is returned when Options.SliceSize is not positive.
	ErrInvalidSliceSize = errors.New("slice size must be > 0")

	// ErrInvalidConcurrency is returned when Options.MaxConcurrency is negative.
	ErrInvalidConcurrency = errors.New("max concurrency must be >= 0")

	// ErrUnsupportedOp is returned for operations other than update and delete.
	ErrUnsupportedOp = errors.New("unsupported batch operation")

	// ErrNotDispatched is the error of requests skipped after a fail-fast
	// stop or a cancelled context.
	ErrNotDispatched = errors.New("request not dispatched")

	// ErrEmptyTarget is the error of requests without a target path.
	ErrEmptyTarget = errors.New("write request has no target")
)

// Op is a batch write operation.
type Op string

// Operations.
const (
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (op Op) method() (string, error) {
	switch op {
	case OpUpdate:
		return http.MethodPut, nil
	case OpDelete:
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOp, op)
	}
}

// WriteRequest is one write. Target is the resource path relative to the
// API root, e.g. "opportunity/oppo_123/". Payload is ignored for deletes.
type WriteRequest struct {
	Target  string         `json:"target" yaml:"target"`
	Payload *record.Fields `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// FailureKind classifies a failed write.
type FailureKind string

// Failure kinds.
const (
	// FailureValidation means the API rejected the write with field-level detail.
	FailureValidation FailureKind = "validation"

	// FailureTransport covers network faults and unexpected statuses.
	FailureTransport FailureKind = "transport"

	// FailureNotDispatched means the request was never sent.
	FailureNotDispatched FailureKind = "not_dispatched"
)

// Success is a completed write with the record the API returned.
type Success struct {
	Target string
	Record record.Record
}

// Failure is a failed write. Target and Payload are those of the original
// request.
type Failure struct {
	Target  string
	Payload *record.Fields
	Kind    FailureKind
	Err     error

	// Detail is set for FailureValidation.
	Detail *client.ValidationDetail
}

// Message renders the failure for operators.
func (f Failure) Message() string {
	if !f.Detail.Empty() {
		return f.Detail.String()
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind)
}

// Outcome is passed to Options.OnOutcome as each request settles. Exactly
// one of Success and Failure is set.
type Outcome struct {
	Success *Success
	Failure *Failure
}

// Result collects the outcomes of a batch in the order they settled.
type Result struct {
	Successes []Success
	Failures  []Failure
}

// Total returns the number of outcomes.
func (r *Result) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// Summary returns "N succeeded, M failed".
func (r *Result) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", len(r.Successes), len(r.Failures))
}

// FailuresByKind counts failures per kind.
func (r *Result) FailuresByKind() map[FailureKind]int {
	counts := make(map[FailureKind]int)
	for _, f := range r.Failures {
		counts[f.Kind]++
	}
	return counts
}

// Options configures one batch.
type Options struct {
	// SliceSize is the number of requests per slice.
	SliceSize int

	// MaxConcurrency bounds the concurrent requests within a slice.
	// Zero means SliceSize.
	MaxConcurrency int

	// FailFast stops dispatching slices once any failure is observed.
	FailFast bool

	// Timeout bounds each request. Zero disables it.
	Timeout time.Duration

	// OnOutcome is called for every outcome, one call at a time.
	OnOutcome func(Outcome)
}

// DefaultOptions returns the default batch options.
func DefaultOptions() Options {
	return Options{
		SliceSize: 10,
		Timeout:   60 * time.Second,
	}
}

func (o Options) validate() error {
	if o.SliceSize <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSliceSize, o.SliceSize)
	}
	if o.MaxConcurrency < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, o.MaxConcurrency)
	}
	return nil
}
