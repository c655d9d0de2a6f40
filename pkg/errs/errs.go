// Package errs defines the error taxonomy shared by the analysis and training
// pipelines, and the Result type used where failures are reported as status
// rather than returned.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code categorizes a pipeline error.
type Code string

const (
	CodeConfiguration         Code = "configuration"
	CodeInsufficientBands     Code = "insufficient_bands"
	CodeInsufficientData      Code = "insufficient_data"
	CodeNoHistoricalData      Code = "no_historical_data"
	CodeInsufficientTrendData Code = "insufficient_trend_data"
	CodeModelNotTrained       Code = "model_not_trained"
	CodePersistence           Code = "persistence"
	CodeInvalidInput          Code = "invalid_input"
)

// HTTPStatus maps a Code to the status the HTTP driver answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInsufficientBands, CodeInsufficientData, CodeInvalidInput,
		CodeNoHistoricalData, CodeInsufficientTrendData:
		return http.StatusUnprocessableEntity
	case CodeModelNotTrained:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized error. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code wrapping err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether any *Error in err's tree carries code. Unlike CodeOf it
// looks past the outermost *Error and into joined errors.
func Is(err error, code Code) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		if e.Code == code {
			return true
		}
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return Is(u.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
	}
	return false
}

func InsufficientBands(got int) *Error {
	return New(CodeInsufficientBands, "need at least 4 bands, got %d", got)
}

func ModelNotTrained() *Error {
	return New(CodeModelNotTrained, "no models loaded or trained")
}

func Persistence(err error, artifact string) *Error {
	return Wrap(CodePersistence, err, "artifact %q", artifact)
}

func Configuration(format string, args ...any) *Error {
	return New(CodeConfiguration, format, args...)
}
