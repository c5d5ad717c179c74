// Package domain holds the types and sentinel errors shared by every layer
// of the cache: the storage engine, the memory tier, and the coordinator.
package domain

import "errors"

// Sentinel errors describing the error kinds of the storage engine.
// Callers at the coordinator boundary never see these directly (§7
// propagation policy); they are consolidated into boolean/absent results
// and, when enabled, surfaced through a diagnostics hook.
var (
	// ErrPreconditionViolated covers empty keys, empty values, and values
	// saved without a filename against a File-only store.
	ErrPreconditionViolated = errors.New("precondition violated")
	// ErrIOFailed covers filesystem and index errors.
	ErrIOFailed = errors.New("i/o failed")
	// ErrCorrupted covers an unreadable or schema-mismatched index.
	ErrCorrupted = errors.New("index corrupted")
	// ErrNotFound indicates the key is absent. Not treated as an error by
	// get/contains; only used internally to short-circuit lookups.
	ErrNotFound = errors.New("key not found")
	// ErrFailedState indicates an operation was attempted after the store
	// entered the Failed state (see store.State).
	ErrFailedState = errors.New("storage is in failed state")
	// ErrTypeMismatch indicates a store was opened with a StorageType that
	// differs from the one recorded when the directory was first created
	// (spec §6 "two construction errors: invalid path, and type mismatch
	// with an existing store at the path").
	ErrTypeMismatch = errors.New("storage type mismatch with existing store")
)
