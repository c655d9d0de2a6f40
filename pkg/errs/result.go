package errs

import "encoding/json"

// Status is the outcome tag carried by a Result.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusInsufficientData Status = "insufficient_data"
	StatusNoHistoricalData Status = "no_historical_data"
	StatusError            Status = "error"
)

// Result carries either a success payload or a tagged failure. Extraction
// steps return Results instead of errors so that a caller branching on the
// outcome cannot skip the failure path by ignoring a second return value.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// OK wraps a completed value.
func OK[T any](v T) Result[T] {
	return Result[T]{Status: StatusCompleted, Value: v}
}

// Fail builds a non-completed Result. The status is derived from the error code.
func Fail[T any](err error) Result[T] {
	return Result[T]{Status: statusFor(err), Err: err}
}

// Completed reports whether the Result holds a value.
func (r Result[T]) Completed() bool {
	return r.Status == StatusCompleted
}

// Unwrap returns the value and the error in Go's usual shape.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// MarshalJSON renders the Result as {"status": ..., "value": ...} or
// {"status": ..., "error": ...}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.Completed() {
		return json.Marshal(struct {
			Status Status `json:"status"`
			Value  T      `json:"value"`
		}{r.Status, r.Value})
	}
	msg := ""
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return json.Marshal(struct {
		Status Status `json:"status"`
		Error  string `json:"error,omitempty"`
	}{r.Status, msg})
}

func statusFor(err error) Status {
	switch CodeOf(err) {
	case CodeInsufficientData, CodeInsufficientTrendData:
		return StatusInsufficientData
	case CodeNoHistoricalData:
		return StatusNoHistoricalData
	default:
		return StatusError
	}
}
