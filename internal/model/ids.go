// Package model defines the entity types and identifier invariants shared
// by every component of the trace-consumption core.
package model

import "sync/atomic"

// ImageID identifies an interned loaded image, supplied by the
// instrumentation front-end.
type ImageID int64

// FileID identifies an interned source file, supplied by the front-end.
type FileID int64

// FunctionID identifies an interned function, supplied by the front-end.
type FunctionID int64

// SourceLocationID identifies an interned (function, line, column) tuple.
// Equality of the underlying SourceLocation is by that triple, not identity.
type SourceLocationID int64

// TagID identifies a tag declared in the source config.
type TagID int64

// TagInstructionID identifies a Start/Stop binding of a tag to a source location.
type TagInstructionID int64

// ThreadID identifies an observed target thread, supplied by the front-end.
type ThreadID int64

// TagInstanceID, CallID, and SegmentID are allocated by the core itself
// before the corresponding row is written, since the call stack and
// active-tag list must reference them prior to insertion.
type (
	TagInstanceID int64
	CallID        int64
	SegmentID     int64
)

// InstructionID, AccessID, and ConflictID are allocated by the Writer sink
// on insert and returned to the caller. ReferenceID is the exception: see
// IDAllocator's doc comment below.
type (
	InstructionID int64
	ReferenceID   int64
	AccessID      int64
	ConflictID    int64
)

// IDAllocator issues monotonically increasing identifiers for the entities
// the core pre-allocates itself (TagInstance, Call, Segment), shared across
// all per-thread consumers so ids never collide between threads.
//
// Reference also draws from here rather than from the Writer: the shared
// reference map must key a newly classified Reference into its own tree
// before the Writer ever sees the row, so the id has to exist first.
type IDAllocator struct {
	nextTagInstance int64
	nextCall        int64
	nextSegment     int64
	nextReference   int64
}

// NewIDAllocator returns an allocator with all counters starting at 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// NextTagInstanceID returns the next TagInstanceID.
func (a *IDAllocator) NextTagInstanceID() TagInstanceID {
	return TagInstanceID(atomic.AddInt64(&a.nextTagInstance, 1))
}

// NextCallID returns the next CallID.
func (a *IDAllocator) NextCallID() CallID {
	return CallID(atomic.AddInt64(&a.nextCall, 1))
}

// NextSegmentID returns the next SegmentID.
func (a *IDAllocator) NextSegmentID() SegmentID {
	return SegmentID(atomic.AddInt64(&a.nextSegment, 1))
}

// NextReferenceID returns the next ReferenceID.
func (a *IDAllocator) NextReferenceID() ReferenceID {
	return ReferenceID(atomic.AddInt64(&a.nextReference, 1))
}
