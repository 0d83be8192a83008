// Package common defines shared constants and sentinel errors used across
// client and server layers of FinKeeper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStorage wraps local durable-store failures (disk, quota, corruption).
	ErrStorage = errors.New("storage error")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation marks a record payload rejected by the reconciler.
	ErrValidation = errors.New("validation error")

	// ErrUnknownRecordType is returned for anything but transaction/budget/loan.
	ErrUnknownRecordType = errors.New("unknown record type")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
