// Package mergebase computes the best common ancestor(s) of a set of
// commits, the way a three-way merge needs to find where two branches
// diverged.
package mergebase

import (
	"fmt"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/object"
	"github.com/Nivl/git-go/revwalk"
)

// parent-marking flags used during the flood-fill BFS. A commit may
// carry more than one flag if it's reachable from more than one of
// the input commits.
type flag uint8

const (
	flagNone flag = 0
)

// flagFor returns the bit reserved for input commit i. Only the first
// 8 input commits get a distinct bit; beyond that, inputs share the
// highest bit, which only costs precision on pathological >8-way
// merge-base calls.
func flagFor(i int) flag {
	if i > 7 {
		i = 7
	}
	return 1 << uint(i)
}

// Options tunes how Compute behaves.
type Options struct {
	// Shallow marks commits whose parents must not be walked, because
	// the repository doesn't have them (a shallow clone's boundary).
	Shallow map[string]bool
	// BestOnly reduces the result set to independent candidates: a
	// candidate that's an ancestor of another candidate is dropped.
	// This is always applied; BestOnly additionally removes all but
	// the single best (most recently committed) remaining candidate.
	BestOnly bool
}

// entry is a commit visited during the flood fill.
type entry struct {
	commit *object.Commit
	flags  flag
	queued bool
}

// Compute returns the merge base(s) of the given commits: the best
// common ancestor(s) reachable from every one of them. Compute
// mirrors git's "2 bit flood fill" algorithm: every input commit
// floods its own bit forward through its ancestry; a commit carrying
// every input's bit is a common ancestor, and is reported as a result
// once none of its children can possibly also be common ancestors.
func Compute(getter revwalk.CommitGetter, opts Options, commits ...ginternals.Oid) ([]ginternals.Oid, error) {
	if len(commits) == 0 {
		return nil, nil
	}
	if len(commits) == 1 {
		return []ginternals.Oid{commits[0]}, nil
	}

	allFlags := flagNone
	for i := range commits {
		allFlags |= flagFor(i)
	}

	entries := map[string]*entry{}
	type pqItem struct {
		oid ginternals.Oid
	}
	var queue []pqItem

	get := func(oid ginternals.Oid) (*entry, error) {
		key := oid.String()
		if e, ok := entries[key]; ok {
			return e, nil
		}
		c, err := getter.GetCommit(oid)
		if err != nil {
			return nil, fmt.Errorf("mergebase: could not load commit %s: %w", key, err)
		}
		e := &entry{commit: c}
		entries[key] = e
		return e, nil
	}

	push := func(oid ginternals.Oid, f flag) error {
		e, err := get(oid)
		if err != nil {
			return err
		}
		if e.flags&f == f {
			return nil
		}
		e.flags |= f
		if !e.queued {
			e.queued = true
			queue = append(queue, pqItem{oid: oid})
		}
		return nil
	}

	for i, oid := range commits {
		if err := push(oid, flagFor(i)); err != nil {
			return nil, err
		}
	}

	// sortQueue orders the flood-fill frontier by committer date
	// descending so we always expand the most recent commit first,
	// matching the assumption that ancestors have earlier dates.
	sortQueue := func() {
		for i := 1; i < len(queue); i++ {
			for j := i; j > 0; j-- {
				ei := entries[queue[j].oid.String()]
				ej := entries[queue[j-1].oid.String()]
				if ei.commit.Committer().Time.After(ej.commit.Committer().Time) {
					queue[j], queue[j-1] = queue[j-1], queue[j]
					continue
				}
				break
			}
		}
	}

	var results []ginternals.Oid
	for len(queue) > 0 {
		sortQueue()
		item := queue[0]
		queue = queue[1:]
		key := item.oid.String()
		e := entries[key]
		e.queued = false

		if e.flags == allFlags {
			// Every remaining queued commit whose flags are a subset
			// of this commit's flags is an ancestor of it and can
			// never itself be a maximal common ancestor, so the first
			// time we see a fully-flagged commit we can stop fanning
			// out from it; we still need to drain any already-queued
			// equally-flagged siblings to catch every independent
			// common ancestor.
			results = append(results, item.oid)
			continue
		}

		if opts.Shallow[key] {
			continue
		}
		for _, p := range e.commit.ParentIDs() {
			if err := push(p, e.flags); err != nil {
				return nil, err
			}
		}
	}

	results = removeRedundant(getter, results)
	if opts.BestOnly && len(results) > 1 {
		results = results[:1]
	}
	return results, nil
}

// removeRedundant drops any candidate that's an ancestor of another
// candidate, leaving only the independent, maximal common ancestors.
func removeRedundant(getter revwalk.CommitGetter, candidates []ginternals.Oid) []ginternals.Oid {
	if len(candidates) <= 1 {
		return candidates
	}

	isAncestor := func(start, target ginternals.Oid) bool {
		visited := map[string]bool{}
		queue := []ginternals.Oid{start}
		targetKey := target.String()
		for len(queue) > 0 {
			oid := queue[0]
			queue = queue[1:]
			key := oid.String()
			if visited[key] {
				continue
			}
			visited[key] = true
			if key == targetKey {
				return true
			}
			c, err := getter.GetCommit(oid)
			if err != nil {
				continue
			}
			queue = append(queue, c.ParentIDs()...)
		}
		return false
	}

	kept := make([]ginternals.Oid, 0, len(candidates))
	for i, c := range candidates {
		redundant := false
		for j, other := range candidates {
			if i == j {
				continue
			}
			// c is redundant if it's a (strict) ancestor of some other
			// candidate: walk from other's parents, looking for c.
			oc, err := getter.GetCommit(other)
			if err != nil {
				continue
			}
			for _, p := range oc.ParentIDs() {
				if isAncestor(p, c) {
					redundant = true
					break
				}
			}
			if redundant {
				break
			}
		}
		if !redundant {
			kept = append(kept, c)
		}
	}
	return kept
}
