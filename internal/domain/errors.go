package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")

	ErrRouteNotFound           = errors.New("route not found")
	ErrNoSegmentsAvailable     = errors.New("no segments available")
	ErrInvalidSegmentData      = errors.New("invalid segment data")
	ErrUnsupportedSegmentType  = errors.New("unsupported segment type")
	ErrSegmentExecutionFailure = errors.New("segment execution failed")
	ErrExecutionNotFound       = errors.New("execution not found")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrSolverFailure           = errors.New("solver failure")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrModificationUnsupported = errors.New("modification not supported for provider")
)
