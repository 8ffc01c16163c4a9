package types

import "fmt"

// Validation error codes reported to API and CLI callers.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidLatitude  = "INVALID_LATITUDE"
	CodeInvalidLongitude = "INVALID_LONGITUDE"
	CodeInvalidRadius    = "INVALID_RADIUS"
	CodeInvalidUnits     = "INVALID_UNITS"
	CodeFetchFailed      = "FETCH_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// ValidationError describes invalid user input.
type ValidationError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Guidance string `json:"guidance,omitempty"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
