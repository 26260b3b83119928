// Package service provides the premium key lifecycle services.
package service

import "errors"

// Common service errors.
var (
	// ErrKeyBusy indicates another redemption of the same key holds its lock.
	ErrKeyBusy = errors.New("key is being redeemed, try again")

	// ErrReconcileInProgress indicates a reconciliation cycle is already running.
	ErrReconcileInProgress = errors.New("reconciliation already in progress")

	// ErrSyncDisabled indicates no secondary store is configured.
	ErrSyncDisabled = errors.New("secondary store is not configured")

	// ErrInternalError wraps unexpected infrastructure failures.
	ErrInternalError = errors.New("internal server error")
)
