package backend

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/config"
	"github.com/Nivl/git-go/ginternals/githash"
	"github.com/Nivl/git-go/ginternals/packfile"
	"github.com/Nivl/git-go/internal/cache"
	"github.com/Nivl/git-go/internal/syncutil"
	"github.com/Nivl/git-go/reftable"
	"github.com/spf13/afero"
)

// reftableDirName is where a stack of reftable files lives relative
// to the .git directory, mirroring the "reftable" directory name
// upstream git uses when extensions.refStorage is set to "reftable".
const reftableDirName = "reftable"

// we make sure the struct implements the interface
var _ Backend = (*FSBackend)(nil)

// defaultObjectCacheSize is the amount of objects kept in the in-memory
// LRU cache before older entries get evicted.
const defaultObjectCacheSize = 1024

// defaultMutexPoolSize is the amount of stripes used by the per-object
// and per-packfile named mutexes. Using more than one mutex lets
// unrelated objects be read/written concurrently.
const defaultMutexPoolSize = 64

// FSBackend is a Backend implementation that stores the odb and the
// references on the filesystem, following the layout of a regular
// .git directory
type FSBackend struct {
	fs     afero.Fs
	config *config.Config
	hash   githash.Hash

	cache    *cache.LRU
	objectMu *syncutil.NamedMutex

	looseObjects sync.Map
	packfiles    map[githash.Oid]*packfile.Pack
	refs         sync.Map

	// refTable is non-nil when extensions.refStorage is set to
	// "reftable": reference reads and writes then go through a stack
	// of reftable files instead of one-file-per-ref plus refs.
	refTable *reftable.Stack
}

// NewFS returns a new FSBackend using the given config.
// The loose objects, packfiles, and references already on disk are
// loaded in memory so reads don't need to hit the filesystem again.
func NewFS(cfg *config.Config) (*FSBackend, error) {
	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	objCache, err := cache.NewLRU(defaultObjectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create object cache: %w", err)
	}

	b := &FSBackend{
		fs:        fs,
		config:    cfg,
		hash:      githash.NewSHA1(),
		cache:     objCache,
		objectMu:  syncutil.NewNamedMutex(defaultMutexPoolSize),
		packfiles: map[githash.Oid]*packfile.Pack{},
	}

	if err := b.loadConfig(); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if name, ok := cfg.FromFile().RefStorage(); ok && name == "reftable" {
		stack, err := reftable.OpenStack(fs, b.hash, filepath.Join(b.Path(), reftableDirName))
		if err != nil {
			return nil, fmt.Errorf("could not open reftable stack: %w", err)
		}
		b.refTable = stack
	}
	if err := b.loadRefs(); err != nil {
		return nil, fmt.Errorf("could not load references: %w", err)
	}
	if err := b.loadLooseObject(); err != nil {
		return nil, fmt.Errorf("could not load loose objects: %w", err)
	}
	if err := b.loadPacks(); err != nil {
		return nil, fmt.Errorf("could not load packfiles: %w", err)
	}

	return b, nil
}

// Path returns the path of the .git directory
func (b *FSBackend) Path() string {
	return ginternals.DotGitPath(b.config)
}

// ObjectsPath returns the path of the directory containing the odb
func (b *FSBackend) ObjectsPath() string {
	return ginternals.ObjectsPath(b.config)
}

// Hash returns the hash algorithm used by the repository
func (b *FSBackend) Hash() githash.Hash {
	return b.hash
}

// Close frees the resources held by the backend
func (b *FSBackend) Close() error {
	for _, pack := range b.packfiles {
		if err := pack.Close(); err != nil {
			return fmt.Errorf("could not close packfile: %w", err)
		}
	}
	return nil
}
