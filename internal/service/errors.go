package service

import "errors"

// Sentinel errors shared across the coordinator services. Handlers map these
// onto response codes; services wrap them with context where useful.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrNoActiveAttempt  = errors.New("no active attempt")
	ErrExamNotAvailable = errors.New("exam is not available")
	ErrResultNotReady   = errors.New("attempt is not finalized yet")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrSessionActive      = errors.New("another session is already active")
	ErrSessionInvalidated = errors.New("session was invalidated")
)
