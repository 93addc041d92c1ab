// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"errors"
	"fmt"
)

// Build-time errors: malformed input handed to the Builder.
var (
	// ErrInvalidPattern is returned when a glob pattern is malformed: an
	// unmatched '[', a trailing escape '\', or an empty character class.
	ErrInvalidPattern = errors.New("iocdb: invalid glob pattern")

	// ErrInvalidCIDR is returned when an IP key cannot be parsed as an
	// address or CIDR prefix.
	ErrInvalidCIDR = errors.New("iocdb: invalid IP or CIDR")

	// ErrDuplicateKeyConflict names the case of the same literal key
	// inserted twice with incompatible data. The Builder has no strict mode
	// and does not return it: repeated literal keys are all kept, chained
	// under one bucket.
	ErrDuplicateKeyConflict = errors.New("iocdb: duplicate key with conflicting data")

	// ErrResourceLimitExceeded is returned when a glob pattern is longer
	// than MaxPatternBytes or has more than MaxMetaWords meta-words. These
	// limits are fixed constants; the total entry count is not limited.
	ErrResourceLimitExceeded = errors.New("iocdb: resource limit exceeded")

	// ErrBuilderConsumed is returned when Build is called a second time, or
	// when an Add* method is called after Build.
	ErrBuilderConsumed = errors.New("iocdb: builder already consumed")
)

// Open-time errors: malformed file.
var (
	ErrBadMagic           = errors.New("iocdb: bad magic")
	ErrUnsupportedVersion = errors.New("iocdb: unsupported format version")
	ErrTruncatedFile      = errors.New("iocdb: truncated file")
	ErrSectionOutOfBounds = errors.New("iocdb: section out of bounds")
	ErrInvalidOffset      = errors.New("iocdb: invalid offset")
	ErrCrcMismatch        = errors.New("iocdb: header CRC mismatch")
	ErrBadRecordSize      = errors.New("iocdb: invalid IP trie record size in metadata")
)

// Decode-time errors: malformed metadata value.
var (
	ErrTruncatedValue = errors.New("iocdb: truncated metadata value")
	ErrUnknownTag     = errors.New("iocdb: unknown metadata tag")
	ErrDepthExceeded  = errors.New("iocdb: metadata nesting too deep")
	ErrPointerCycle   = errors.New("iocdb: metadata pointer cycle")
	ErrInvalidUTF8    = errors.New("iocdb: string is not valid UTF-8")
)

// Query-time errors.
var (
	// ErrOutsideBoundary names a read that would run past the end of the
	// mapped buffer. No accessor in this package returns it: the section
	// views slice the buffer directly after the bounds checks made at Open.
	ErrOutsideBoundary = errors.New("iocdb: read outside file boundary")

	// ErrNotOpen is returned when a Database lookup method is called after
	// Close.
	ErrNotOpen = errors.New("iocdb: database is closed")
)

// SectionOutOfBoundsError carries the offending section's bounds for
// diagnostics; errors.Is(err, ErrSectionOutOfBounds) still works through
// Unwrap.
type SectionOutOfBoundsError struct {
	Section string
	Offset  uint64
	Length  uint64
	Total   uint64
}

func (e *SectionOutOfBoundsError) Error() string {
	return fmt.Sprintf("iocdb: section %q at [%d,%d) falls outside file of size %d",
		e.Section, e.Offset, e.Offset+e.Length, e.Total)
}

func (e *SectionOutOfBoundsError) Unwrap() error { return ErrSectionOutOfBounds }

// DecodeError wraps a metadata decode failure with the offset at which it
// occurred, so a corrupt entry fails only the one lookup that touches it.
type DecodeError struct {
	Offset uint32
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("iocdb: decode error at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
