package reftable

import (
	"github.com/Nivl/git-go/ginternals/githash"
)

// ValueType identifies what kind of value a ref record carries.
type ValueType uint8

const (
	// ValueDeletion marks a ref as removed as of this record's update
	// index. It's how a stack represents "this ref used to exist in
	// an older table, but doesn't anymore" without rewriting history.
	ValueDeletion ValueType = iota
	// ValueDirect points straight at an object id.
	ValueDirect
	// ValueDirectWithPeeled is ValueDirect plus the peeled id of an
	// annotated tag, so readers never need to open the object it
	// points to just to learn its peeled value.
	ValueDirectWithPeeled
	// ValueSymbolic points at another ref by name.
	ValueSymbolic
)

// RefRecord is a single reference entry in a table.
type RefRecord struct {
	Name        string
	UpdateIndex uint64
	Type        ValueType
	Target      githash.Oid // set for ValueDirect / ValueDirectWithPeeled
	Peeled      githash.Oid // set for ValueDirectWithPeeled
	SymTarget   string      // set for ValueSymbolic
}

// IsDeletion reports whether the record tombstones a previously
// written reference.
func (r RefRecord) IsDeletion() bool {
	return r.Type == ValueDeletion
}

// LogRecord is a single reflog entry, keyed by name and the update
// index of the transaction that created it (the bitwise-inverted
// update index is what actually sorts newest-first on disk, see
// encodeLogKey).
type LogRecord struct {
	RefName       string
	UpdateIndex   uint64
	Old, New      githash.Oid
	CommitterName string
	Email         string
	Time          int64
	TZOffset      int16
	Message       string
}

// encodeLogKey builds the on-disk sort key for a log record: the ref
// name, a NUL, then the bitwise complement of the update index so
// that within a table, log entries for the same ref sort from the
// most recent update index to the oldest.
func encodeLogKey(name string, updateIndex uint64) []byte {
	key := make([]byte, 0, len(name)+1+8)
	key = append(key, name...)
	key = append(key, 0)
	inv := ^updateIndex
	for i := 7; i >= 0; i-- {
		key = append(key, byte(inv>>(uint(i)*8)))
	}
	return key
}
