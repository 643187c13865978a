package remote

import (
	"errors"
	"fmt"
)

// Backend error codes. The numeric ones are Postgres SQLSTATEs, passed
// through unchanged by PostgREST.
const (
	CodeNotFound         = "PGRST116"
	CodeUniqueViolation  = "23505"
	CodePermissionDenied = "42501"
	CodeShape            = "shape"
	CodeNetwork          = "network"
	CodeUnauthorized     = "unauthorized"
)

// Error is a backend failure with a machine-readable code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// Code returns the backend code carried by err, or "".
func Code(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports a single-row lookup that found nothing.
func IsNotFound(err error) bool { return Code(err) == CodeNotFound }

// IsUniqueViolation reports a uniqueness constraint failure.
func IsUniqueViolation(err error) bool { return Code(err) == CodeUniqueViolation }

// IsPermissionDenied reports a row-level security rejection.
func IsPermissionDenied(err error) bool { return Code(err) == CodePermissionDenied }
