// Package backend contains interfaces and implementations to store and
// retrieve data from the odb
package backend

import (
	"errors"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/githash"
	"github.com/Nivl/git-go/ginternals/object"
	"github.com/Nivl/git-go/ginternals/packfile"
)

// This line generates a mock of the interfaces using gomock
// (https://github.com/golang/mock). To regenerate the mocks, you'll need
// gomock and mockgen installed, then run `go generate github.com/Nivl/git-go/backend`
//
//go:generate mockgen -package mockpackfile -destination ../internal/mocks/mockbackend/backend.go github.com/Nivl/git-go/backend Backend

// Backend represents an object that can store and retrieve data
// from and rto the odb
type Backend interface {
	// Close free the resources
	Close() error

	// Path returns the absolute path to the directory the backend
	// stores the repository's data in (the .git directory, for the
	// filesystem backend)
	Path() string
	// ObjectsPath returns the absolute path to the directory the backend
	// stores loose objects and packfiles in
	ObjectsPath() string
	// Hash returns the hash algorithm used by the repository to compute
	// object ids
	Hash() githash.Hash

	// Init initializes a repository using the given default branch name
	Init(branchName string) error
	// InitWithOptions initializes a repository using the provided options
	InitWithOptions(branchName string, opts InitOptions) error

	// Reference returns a stored reference from its name
	Reference(name string) (*ginternals.Reference, error)
	// WriteReference writes the given reference int the db. If the
	// reference already exists it will be overwritten
	WriteReference(ref *ginternals.Reference) error
	// WriteReferenceSafe writes the given reference in the db
	// ErrRefExists is returned if the reference already exists
	WriteReferenceSafe(ref *ginternals.Reference) error
	// CompareAndSwapReference writes ref only if its current on-disk
	// value is an oid reference pointing at expectedOldOid.
	// ginternals.ErrConflict is returned if another writer updated the
	// reference first, and ginternals.ErrLocked is returned if the
	// reference's lock file couldn't be acquired in time.
	CompareAndSwapReference(ref *ginternals.Reference, expectedOldOid githash.Oid) error
	// WalkReferences runs the provided method on all the references
	WalkReferences(f RefWalkFunc) error

	// Object returns the object that has given oid
	Object(githash.Oid) (*object.Object, error)
	// HasObject returns whether an object exists in the odb
	HasObject(githash.Oid) (bool, error)
	// ResolveOidPrefix resolves an abbreviated oid (read_prefix) to the
	// single full oid it matches. ginternals.ErrObjectNotFound is
	// returned if no object matches, ginternals.ErrAmbiguousPrefix if
	// more than one does.
	ResolveOidPrefix(prefix string) (githash.Oid, error)
	// WriteObject adds an object to the odb
	WriteObject(*object.Object) (githash.Oid, error)
	// WalkPackedObjectIDs runs the provided method on all the objects ids
	WalkPackedObjectIDs(f packfile.OidWalkFunc) error
	// WalkLooseObjectIDs runs the provided method on all the loose ids
	WalkLooseObjectIDs(f packfile.OidWalkFunc) error
	// VerifyPacks checks the integrity of every packfile backing this
	// repository: the trailer checksum and every contained object.
	VerifyPacks() error
}

// RefWalkFunc represents a function that will be applied on all references
// found by Walk()
type RefWalkFunc = func(ref *ginternals.Reference) error

// WalkStop is a fake error used to tell Walk() to stop
var WalkStop = errors.New("stop walking") //nolint // the linter expects all errors to start with Err, but since here we're faking an error we don't want that
