package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestCodeOf_WrappedChain(t *testing.T) {
	base := InsufficientBands(3)
	wrapped := fmt.Errorf("compute indices: %w", base)

	if got := CodeOf(wrapped); got != CodeInsufficientBands {
		t.Errorf("CodeOf() = %q, want %q", got, CodeInsufficientBands)
	}
	if !Is(wrapped, CodeInsufficientBands) {
		t.Error("Is() = false, want true")
	}
	if Is(errors.New("plain"), CodeInsufficientBands) {
		t.Error("Is() on plain error = true, want false")
	}
	if Is(nil, "") {
		t.Error("Is(nil) = true, want false")
	}
}

func TestIs_WalksWholeTree(t *testing.T) {
	inner := New(CodeInvalidInput, "bad row")
	outer := Wrap(CodePersistence, fmt.Errorf("save: %w", inner), "metrics")
	joined := errors.Join(errors.New("other"), Persistence(errors.New("disk"), "scaler"))

	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"outer code", outer, CodePersistence, true},
		{"inner code behind outer error", outer, CodeInvalidInput, true},
		{"absent code", outer, CodeModelNotTrained, false},
		{"joined", joined, CodePersistence, true},
		{"joined absent", joined, CodeInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is(%v, %q) = %v, want %v", tt.err, tt.code, got, tt.want)
			}
		})
	}
	if got := CodeOf(outer); got != CodePersistence {
		t.Errorf("CodeOf() = %q, want outermost code", got)
	}
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence(cause, "scaler")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !strings.Contains(err.Error(), "scaler") {
		t.Errorf("Error() = %q, want artifact name", err.Error())
	}
}

func TestFail_StatusFromCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"insufficient data", New(CodeInsufficientData, "x"), StatusInsufficientData},
		{"insufficient trend", New(CodeInsufficientTrendData, "x"), StatusInsufficientData},
		{"no history", New(CodeNoHistoricalData, "x"), StatusNoHistoricalData},
		{"other", errors.New("boom"), StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Fail[int](tt.err)
			if r.Status != tt.want {
				t.Errorf("Status = %q, want %q", r.Status, tt.want)
			}
			if r.Completed() {
				t.Error("Completed() = true for failed result")
			}
		})
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(OK(42))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"status":"completed","value":42}` {
		t.Errorf("got %s", data)
	}

	data, err = json.Marshal(Fail[int](New(CodeNoHistoricalData, "none")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"no_historical_data"`) {
		t.Errorf("got %s", data)
	}
}

func TestCode_HTTPStatus(t *testing.T) {
	if got := CodeModelNotTrained.HTTPStatus(); got != http.StatusServiceUnavailable {
		t.Errorf("model_not_trained -> %d", got)
	}
	if got := CodeInvalidInput.HTTPStatus(); got != http.StatusUnprocessableEntity {
		t.Errorf("invalid_input -> %d", got)
	}
	if got := CodePersistence.HTTPStatus(); got != http.StatusInternalServerError {
		t.Errorf("persistence -> %d", got)
	}
}
