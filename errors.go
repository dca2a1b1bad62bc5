package rii

import "errors"

// Core errors
var (
	// ErrShapeMismatch reports raw vectors or queries whose width does not
	// match the codec's dimension.
	ErrShapeMismatch = errors.New("vector shape does not match codec dimension")

	// ErrTooFewItems reports a Configure call requesting more coarse
	// clusters than there are items in the index.
	ErrTooFewItems = errors.New("fewer items than requested coarse clusters")

	// ErrNotConfigured reports an IVF or planned query before any
	// Configure call has built the coarse structure.
	ErrNotConfigured = errors.New("engine is not configured")

	// ErrEmptyIndex reports any query against an index with no items.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrInvalidArgument reports out-of-domain scalar arguments: topk < 1,
	// L < 1, nlist < 1, or negative identifiers in a target set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruptSnapshot reports a snapshot stream with a bad header,
	// truncated sections, or inconsistent sizes.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)
