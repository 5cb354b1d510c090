package git

import (
	"errors"
	"fmt"

	"github.com/Nivl/git-go/backend"
	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/config"
	"github.com/Nivl/git-go/ginternals/object"
	"github.com/spf13/afero"
)

// List of errors returned by the Repository struct
var (
	ErrRepositoryNotExist = errors.New("repository does not exist")
	ErrRepositoryExists   = errors.New("repository already exists")
	ErrTagNotFound        = errors.New("tag not found")
	ErrTagExists          = errors.New("tag already exists")
)

// Repository represent a git repository
// A Git repository is the .git/ folder inside a project.
// This repository tracks all changes made to files in your project,
// building a history over time.
// https://blog.axosoft.com/learning-git-repository/
type Repository struct {
	// Config contains the resolved configuration used to locate and
	// set up this repository
	Config *config.Config

	dotGit backend.Backend
	// workTree is nil for bare repositories
	workTree afero.Fs
}

// InitOptions contains all the optional data used to initialized a
// repository
type InitOptions struct {
	// IsBare represents whether a bare repository will be created or not
	IsBare bool
	// InitialBranchName is the name of the branch HEAD will point to.
	// Defaults to "master"
	InitialBranchName string
	// Symlink creates a .git FILE, pointing to the actual git directory,
	// instead of a .git directory. Useful when --separate-git-dir is used
	Symlink bool
}

// InitRepository initialize a new git repository by creating the .git
// directory in the given path, which is where almost everything that
// Git stores and manipulates is located.
// https://git-scm.com/book/en/v2/Git-Internals-Plumbing-and-Porcelain#ch10-git-internals
func InitRepository(repoPath string) (*Repository, error) {
	return InitRepositoryWithOptions(repoPath, InitOptions{})
}

// InitRepositoryWithOptions initialize a new git repository by creating
// the .git directory in the given path, which is where almost
// everything that Git stores and manipulates is located.
// https://git-scm.com/book/en/v2/Git-Internals-Plumbing-and-Porcelain#ch10-git-internals
func InitRepositoryWithOptions(repoPath string, opts InitOptions) (*Repository, error) {
	cfgOpts := config.LoadConfigOptions{
		WorkingDirectory: repoPath,
		IsBare:           opts.IsBare,
		SkipGitDirLookUp: true,
	}
	if opts.IsBare {
		cfgOpts.GitDirPath = repoPath
	} else {
		cfgOpts.WorkTreePath = repoPath
	}

	cfg, err := config.LoadConfigSkipEnv(cfgOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create repository config: %w", err)
	}

	return InitRepositoryWithParams(cfg, opts)
}

// InitRepositoryWithParams initializes a new git repository using the
// given config and options
func InitRepositoryWithParams(cfg *config.Config, opts InitOptions) (*Repository, error) {
	b, err := backend.NewFS(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	// We can't just check if the directory already exists since Init
	// is safe to call on a directory that's partially set up, so we
	// look for HEAD instead, which is only ever written once a
	// repository has been fully initialized
	if _, err := b.Reference(ginternals.Head); err == nil {
		return nil, ErrRepositoryExists
	} else if !errors.Is(err, ginternals.ErrRefNotFound) {
		return nil, fmt.Errorf("could not check for an existing repository: %w", err)
	}

	branchName := opts.InitialBranchName
	if branchName == "" {
		branchName = ginternals.Master
	}

	err = b.InitWithOptions(branchName, backend.InitOptions{
		CreateSymlink: opts.Symlink,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	var wt afero.Fs
	if !opts.IsBare {
		wt = cfg.FS
	}

	return &Repository{
		Config:   cfg,
		dotGit:   b,
		workTree: wt,
	}, nil
}

// OpenOptions contains all the optional data used to open a
// repository
type OpenOptions struct {
	// IsBare represents whether the repository is bare or not
	IsBare bool
}

// OpenRepository loads an existing git repository by reading its
// config file, and returns a Repository instance
func OpenRepository(repoPath string) (*Repository, error) {
	return OpenRepositoryWithOptions(repoPath, OpenOptions{})
}

// OpenRepositoryWithOptions loads an existing git repository by reading
// its config file, and returns a Repository instance
func OpenRepositoryWithOptions(repoPath string, opts OpenOptions) (*Repository, error) {
	cfgOpts := config.LoadConfigOptions{
		WorkingDirectory: repoPath,
		IsBare:           opts.IsBare,
		SkipGitDirLookUp: true,
	}
	if opts.IsBare {
		cfgOpts.GitDirPath = repoPath
	} else {
		cfgOpts.WorkTreePath = repoPath
	}

	cfg, err := config.LoadConfigSkipEnv(cfgOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create repository config: %w", err)
	}

	return OpenRepositoryWithParams(cfg, opts)
}

// OpenRepositoryWithParams loads an existing git repository using the
// given config and options
func OpenRepositoryWithParams(cfg *config.Config, opts OpenOptions) (*Repository, error) {
	b, err := backend.NewFS(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open repository: %w", err)
	}

	// since we can't always check if the directory exists on disk to
	// validate if the repo exists, we're instead going to see if HEAD
	// exists (since it should always be there once a repo is initialized)
	if _, err := b.Reference(ginternals.Head); err != nil {
		if errors.Is(err, ginternals.ErrRefNotFound) {
			return nil, ErrRepositoryNotExist
		}
		return nil, fmt.Errorf("could not open repository: %w", err)
	}

	var wt afero.Fs
	if !opts.IsBare {
		wt = cfg.FS
	}

	return &Repository{
		Config:   cfg,
		dotGit:   b,
		workTree: wt,
	}, nil
}

// IsBare returns whether the repository has no working tree
func (r *Repository) IsBare() bool {
	return r.workTree == nil
}

// Close frees the resources held by the repository
func (r *Repository) Close() error {
	return r.dotGit.Close()
}

// GetObject returns the object matching the given oid
func (r *Repository) GetObject(oid ginternals.Oid) (*object.Object, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, fmt.Errorf("could not get object %s: %w", oid.String(), err)
	}
	return o, nil
}

// ResolveOidPrefix resolves an abbreviated oid to the single full oid
// it matches across every backend (loose objects and packfiles).
// ginternals.ErrObjectNotFound is returned if nothing matches,
// ginternals.ErrAmbiguousPrefix if more than one object does.
func (r *Repository) ResolveOidPrefix(prefix string) (ginternals.Oid, error) {
	oid, err := r.dotGit.ResolveOidPrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("could not resolve prefix %q: %w", prefix, err)
	}
	return oid, nil
}

// NewBlob creates, persists, and returns a new Blob object
func (r *Repository) NewBlob(data []byte) (*object.Blob, error) {
	o := object.New(r.dotGit.Hash(), object.TypeBlob, data)
	if _, err := r.dotGit.WriteObject(o); err != nil {
		return nil, fmt.Errorf("could not persist blob: %w", err)
	}
	return o.AsBlob(), nil
}

// GetCommit returns the commit matching the given oid
func (r *Repository) GetCommit(oid ginternals.Oid) (*object.Commit, error) {
	o, err := r.GetObject(oid)
	if err != nil {
		return nil, err
	}
	c, err := o.AsCommit()
	if err != nil {
		return nil, fmt.Errorf("could not parse commit %s: %w", oid.String(), err)
	}
	return c, nil
}

// GetReference returns the reference matching the given name.
// Symbolic references are followed until an Oid reference is found.
func (r *Repository) GetReference(name string) (*ginternals.Reference, error) {
	return r.dotGit.Reference(name)
}

// GetTree returns the tree matching the given oid
func (r *Repository) GetTree(oid ginternals.Oid) (*object.Tree, error) {
	o, err := r.GetObject(oid)
	if err != nil {
		return nil, err
	}
	t, err := o.AsTree()
	if err != nil {
		return nil, fmt.Errorf("could not parse tree %s: %w", oid.String(), err)
	}
	return t, nil
}

// assertParentsAreCommits makes sure every oid in the list points to a
// persisted commit object
func (r *Repository) assertParentsAreCommits(parentIDs []ginternals.Oid) error {
	for _, pid := range parentIDs {
		o, err := r.dotGit.Object(pid)
		if err != nil {
			return fmt.Errorf("could not get parent %s: %w", pid.String(), err)
		}
		if o.Type() != object.TypeCommit {
			return fmt.Errorf("invalid type for parent %s: %w", pid.String(), object.ErrObjectInvalid)
		}
	}
	return nil
}

// NewCommit creates, persists a new commit, and updates refName to
// point to it
func (r *Repository) NewCommit(refName string, tree *object.Tree, sig object.Signature, opts *object.CommitOptions) (*object.Commit, error) {
	if err := r.assertParentsAreCommits(opts.ParentsID); err != nil {
		return nil, err
	}

	c := object.NewCommit(r.dotGit.Hash(), tree.ID(), sig, opts)
	if _, err := r.dotGit.WriteObject(c.ToObject()); err != nil {
		return nil, fmt.Errorf("could not persist commit: %w", err)
	}

	ref := ginternals.NewReference(refName, c.ID())
	if err := r.dotGit.WriteReference(ref); err != nil {
		return nil, fmt.Errorf("could not update reference %s: %w", refName, err)
	}

	return c, nil
}

// NewDetachedCommit creates and persists a new commit without updating
// any reference
func (r *Repository) NewDetachedCommit(tree *object.Tree, sig object.Signature, opts *object.CommitOptions) (*object.Commit, error) {
	if err := r.assertParentsAreCommits(opts.ParentsID); err != nil {
		return nil, err
	}

	c := object.NewCommit(r.dotGit.Hash(), tree.ID(), sig, opts)
	if _, err := r.dotGit.WriteObject(c.ToObject()); err != nil {
		return nil, fmt.Errorf("could not persist commit: %w", err)
	}

	return c, nil
}

// GetTag returns the reference of the tag matching the given name.
// The returned reference targets either the tag object (annotated tag)
// or the commit (lightweight tag).
func (r *Repository) GetTag(name string) (*ginternals.Reference, error) {
	ref, err := r.dotGit.Reference(ginternals.LocalTagFullName(name))
	if err != nil {
		if errors.Is(err, ginternals.ErrRefNotFound) {
			return nil, fmt.Errorf("tag %s: %w", name, ErrTagNotFound)
		}
		return nil, fmt.Errorf("could not get tag %s: %w", name, err)
	}
	return ref, nil
}

// assertObjectIsPersisted makes sure the given oid exists in the odb
func (r *Repository) assertObjectIsPersisted(oid ginternals.Oid) error {
	found, err := r.dotGit.HasObject(oid)
	if err != nil {
		return fmt.Errorf("could not check for object %s: %w", oid.String(), err)
	}
	if !found {
		return fmt.Errorf("object %s is not persisted: %w", oid.String(), object.ErrObjectInvalid)
	}
	return nil
}

// NewTag creates, persists, and returns a new annotated tag
func (r *Repository) NewTag(p *object.TagParams) (*object.Tag, error) {
	if err := r.assertObjectIsPersisted(p.Target.ID()); err != nil {
		return nil, err
	}

	tag := object.NewTag(r.dotGit.Hash(), p)
	o := tag.ToObject()
	if _, err := r.dotGit.WriteObject(o); err != nil {
		return nil, fmt.Errorf("could not persist tag: %w", err)
	}
	// we reparse the tag from its persisted object so its ID is
	// populated
	persisted, err := o.AsTag()
	if err != nil {
		return nil, fmt.Errorf("could not parse persisted tag: %w", err)
	}

	ref := ginternals.NewReference(ginternals.LocalTagFullName(p.Name), persisted.ID())
	if err := r.dotGit.WriteReferenceSafe(ref); err != nil {
		if errors.Is(err, ginternals.ErrRefExists) {
			return nil, fmt.Errorf("tag %s: %w", p.Name, ErrTagExists)
		}
		return nil, fmt.Errorf("could not persist tag reference: %w", err)
	}

	return persisted, nil
}

// NewLightweightTag creates and returns a new lightweight tag pointing
// directly to target
func (r *Repository) NewLightweightTag(name string, target ginternals.Oid) (*ginternals.Reference, error) {
	if err := r.assertObjectIsPersisted(target); err != nil {
		return nil, err
	}

	ref := ginternals.NewReference(ginternals.LocalTagFullName(name), target)
	if err := r.dotGit.WriteReferenceSafe(ref); err != nil {
		if errors.Is(err, ginternals.ErrRefExists) {
			return nil, fmt.Errorf("tag %s: %w", name, ErrTagExists)
		}
		return nil, fmt.Errorf("could not persist tag reference: %w", err)
	}

	return ref, nil
}

// NewReference creates and persists a new reference pointing to target
func (r *Repository) NewReference(name string, target ginternals.Oid) (*ginternals.Reference, error) {
	ref := ginternals.NewReference(name, target)
	if err := r.dotGit.WriteReference(ref); err != nil {
		return nil, fmt.Errorf("could not persist reference %s: %w", name, err)
	}
	return ref, nil
}

// NewSymbolicReference creates and persists a new reference pointing to
// another reference
func (r *Repository) NewSymbolicReference(name, targetName string) (*ginternals.Reference, error) {
	ref := ginternals.NewSymbolicReference(name, targetName)
	if err := r.dotGit.WriteReference(ref); err != nil {
		return nil, fmt.Errorf("could not persist reference %s: %w", name, err)
	}
	return ref, nil
}
