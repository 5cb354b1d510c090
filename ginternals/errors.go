package ginternals

import "errors"

// ErrObjectNotFound is an error corresponding to a git object not being
// found
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectCorrupt is returned when an object's bytes don't match what
// its storage location promised: a loose object whose inflated
// content hashes to something other than the oid in its path, a
// packfile/reftable footer hash that doesn't match the bytes it
// covers, a truncated file, or a delta chain that doesn't resolve.
var ErrObjectCorrupt = errors.New("object is corrupt")

// ErrAmbiguousPrefix is returned by prefix lookups (read_prefix) when
// more than one object or reference matches the given prefix.
var ErrAmbiguousPrefix = errors.New("ambiguous prefix")

// ErrFormatUnsupported is returned when a pack or reftable file
// declares a version this library doesn't know how to read.
var ErrFormatUnsupported = errors.New("unsupported format version")

// ErrLocked is returned when a lock file (a ref's <name>.lock, or a
// reftable stack's tables.list.lock) could not be acquired before the
// caller-supplied deadline elapsed.
var ErrLocked = errors.New("could not acquire lock before deadline")

// ErrConflict is returned when a compare-and-swap reference update's
// expected current value doesn't match what's actually stored.
var ErrConflict = errors.New("reference value does not match expected value")

// ErrCancelled is returned when a long-running operation (a revision
// walk, a pack index build) observes the caller's cancellation
// between units of work.
var ErrCancelled = errors.New("operation cancelled")

// ErrTooLarge is returned when a bounded-resource ceiling configured
// by the caller is exceeded, e.g. the number of objects a single
// packfile may declare.
var ErrTooLarge = errors.New("resource exceeds configured limit")
