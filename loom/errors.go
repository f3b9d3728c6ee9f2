package loom

import (
	"errors"
	"fmt"
)

// Stream and session error kinds. Each is a distinct sentinel; callers
// switch on them with errors.Is.
var (
	ErrWrongMagic           = errors.New("loom: wrong magic number")
	ErrWrongVersion         = errors.New("loom: wrong stream version")
	ErrWrongStreamConfig    = errors.New("loom: stream configuration mismatch")
	ErrMetadataCorrupted    = errors.New("loom: metadata block corrupted")
	ErrStreamTruncated      = errors.New("loom: stream truncated")
	ErrStreamCorrupted      = errors.New("loom: stream corrupted")
	ErrTypeStructureChanged = errors.New("loom: type structure changed")
	ErrInvalidOperation     = errors.New("loom: invalid operation")
	ErrArgumentOutOfRange   = errors.New("loom: argument out of range")
	ErrNotImplemented       = errors.New("loom: not implemented")
	ErrNoSerializerForType  = errors.New("loom: no serializer available for type")
)

// Derived sentinels: specialised conditions that still classify as one of
// the kinds above.
var (
	ErrHeterogeneousStream    = fmt.Errorf("%w: heterogeneous graph with type stamping disabled", ErrStreamCorrupted)
	ErrUnknownReference       = fmt.Errorf("%w: reference id beyond high-water mark", ErrStreamCorrupted)
	ErrSurrogateAfterFirstUse = fmt.Errorf("%w: surrogate registered after first serialization/deserialization", ErrInvalidOperation)
)
