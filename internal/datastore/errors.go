package datastore

import (
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// Sentinel errors for repository operations.
var (
	// ErrClipNotFound indicates the requested clip does not exist.
	ErrClipNotFound = errors.NewStd("clip not found")

	// ErrDetectionNotFound indicates the requested detection does not exist.
	ErrDetectionNotFound = errors.NewStd("detection not found")

	// ErrNightNotFound indicates no output row exists for the night.
	ErrNightNotFound = errors.NewStd("night output not found")

	// ErrTaskNotFound indicates the requested task does not exist.
	ErrTaskNotFound = errors.NewStd("task not found")

	// ErrInvalidStatus indicates an unknown clip status.
	ErrInvalidStatus = errors.NewStd("invalid clip status")
)

// dbError creates a categorized database error with context pairs
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError wraps a sentinel so both errors.Is and the not-found category match
func notFoundError(sentinel error, operation string, context ...any) error {
	builder := errors.New(sentinel).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}
