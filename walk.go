package git

import (
	"fmt"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/mergebase"
	"github.com/Nivl/git-go/revwalk"
)

// WalkReferences runs f on every reference stored in the repository.
// Returning backend.WalkStop from f stops the walk early without
// returning an error.
func (r *Repository) WalkReferences(f func(ref *ginternals.Reference) error) error {
	return r.dotGit.WalkReferences(f) //nolint:wrapcheck // the backend error is already descriptive
}

// NewWalker returns a revwalk.Walker that reads commits from this
// repository. See the revwalk package for Push/Hide/Next/Reset.
func (r *Repository) NewWalker() *revwalk.Walker {
	return revwalk.New(r)
}

// VerifyPacks checks the integrity of every packfile backing this
// repository.
func (r *Repository) VerifyPacks() error {
	return r.dotGit.VerifyPacks() //nolint:wrapcheck // the backend error is already descriptive
}

// MergeBase returns the best common ancestor(s) of the given commits.
func (r *Repository) MergeBase(commits ...ginternals.Oid) ([]ginternals.Oid, error) {
	bases, err := mergebase.Compute(r, mergebase.Options{}, commits...)
	if err != nil {
		return nil, fmt.Errorf("could not compute merge base: %w", err)
	}
	return bases, nil
}
