package backend

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/githash"
	"github.com/Nivl/git-go/internal/errutil"
	"github.com/Nivl/git-go/internal/filelock"
	"github.com/Nivl/git-go/reftable"
	"github.com/spf13/afero"
)

// lockAcquireTimeout is how long writeReferenceCAS retries acquiring a
// reference's lock file before giving up with ginternals.ErrLocked.
const lockAcquireTimeout = 1 * time.Second

// lockPollInterval is the centre of the first delay between lock
// attempts: the first delay is picked at random within ±25% of it so
// concurrent writers don't retry in lockstep, and every failed attempt
// doubles the delay, up to lockAcquireTimeout.
const lockPollInterval = 1 * time.Millisecond

// Reference returns a stored reference from its name
// ErrRefNotFound is returned if the reference doesn't exists
// This method can be called concurrently
func (b *FSBackend) Reference(name string) (*ginternals.Reference, error) {
	finder := func(name string) ([]byte, error) {
		if b.refTable != nil {
			if rec, ok := b.refTable.Ref(name); ok {
				return refRecordRaw(rec), nil
			}
			// fall through to the special-file refs (HEAD, ...) which
			// are always kept in b.refs even with the reftable backend
		}
		data, ok := b.refs.Load(name)
		if !ok {
			return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNotFound)
		}
		return data.([]byte), nil
	}
	return ginternals.ResolveReference(b.hash, name, finder)
}

// refRecordRaw renders a reftable.RefRecord the same way a regular
// one-file-per-ref backend would have: the raw bytes
// ginternals.ResolveReference expects to parse ("ref: <target>\n" or
// "<oid>\n").
func refRecordRaw(rec reftable.RefRecord) []byte {
	if rec.Type == reftable.ValueSymbolic {
		return []byte(fmt.Sprintf("ref: %s\n", rec.SymTarget))
	}
	return []byte(fmt.Sprintf("%s\n", rec.Target.String()))
}

// systemPath returns a path from a ref name
// Ex.: On windows refs/heads/master would return refs\heads\master
func (b *FSBackend) systemPath(name string) string {
	name = filepath.FromSlash(name)
	return filepath.Join(b.Path(), name)
}

// loadRefs loads the references in memory. When the repository uses
// the reftable backend (extensions.refStorage = "reftable"), refs/*
// already lives in b.refTable and only the special top-level files
// (HEAD and friends) are loaded here, the same as upstream git keeps
// HEAD a plain file pointing symbolically into the table stack.
func (b *FSBackend) loadRefs() (err error) {
	if b.refTable != nil {
		return b.loadHeadFiles()
	}

	// We first parse the packed-refs file which may or may not exists
	// and may or may not contain outdated information
	// (outdated information will be overwritten once we parse the
	// on-disk references).
	packedRefPath := ginternals.PackedRefsPath(b.config)
	f, err := b.fs.Open(packedRefPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not open %s: %w", packedRefPath, err)
	}
	// if the file doesn't exist then there's nothing to do
	if err == nil {
		defer errutil.Close(f, &err)

		sc := bufio.NewScanner(f)
		for i := 1; sc.Scan(); i++ {
			line := sc.Text()
			// we skip empty lines, comments, and annotated tag commit
			if line == "" || line[0] == '#' || line[0] == '^' {
				continue
			}
			// We expected data to have the format:
			// "oid ref-name"
			parts := strings.Split(line, " ")
			if len(parts) != 2 {
				return fmt.Errorf("could not parse %s, unexpected data line %d: %w", packedRefPath, i, ginternals.ErrPackedRefInvalid)
			}
			// the name of the ref is its UNIX path
			b.refs.Store(filepath.ToSlash(parts[1]), []byte(parts[0]))
		}

		if sc.Err() != nil {
			return fmt.Errorf("could not parse %s: %w", packedRefPath, err)
		}
	}

	// Now we browse all the references on disk
	// TODO(melvin): Do we really want to stop if we cannot parse one file?
	refsPath := ginternals.RefsPath(b.config)
	err = afero.Walk(b.fs, refsPath, func(path string, info fs.FileInfo, e error) error {
		// if refsPath doesn't exists this will return nil and skip the error
		// this is useful in case where the repo is empty and has no
		// references yet
		if path == refsPath {
			return nil
		}

		if e != nil {
			return fmt.Errorf("could not walk %s: %w", path, e)
		}
		if info.IsDir() {
			return nil
		}
		// TODO(melvin): for security reason we should limit the amount of
		// data we can read
		data, e := afero.ReadFile(b.fs, path)
		if e != nil {
			return fmt.Errorf("could not read reference at %s: %w", path, e)
		}
		relpath, e := filepath.Rel(b.Path(), path)
		if e != nil {
			return e //nolint:wrapcheck // the error message is already pretty descriptive
		}
		// the name of the ref is its UNIX path
		b.refs.Store(filepath.ToSlash(relpath), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not browse the refs directory: %w", err)
	}

	return b.loadHeadFiles()
}

// loadHeadFiles loads the special top-level reference files (HEAD and
// friends) that stay plain files regardless of which backend stores
// refs/*.
func (b *FSBackend) loadHeadFiles() error {
	headPaths := []string{
		ginternals.Head,
		// TODO(melvin): Removed until we support the format
		// ginternals.FetchHead,
		ginternals.OrigHead,
		ginternals.MergeHead,
		ginternals.CherryPickHead,
	}
	for _, path := range headPaths {
		data, err := afero.ReadFile(b.fs, filepath.Join(b.Path(), path))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("could not read reference at %s: %w", path, err)
		}
		b.refs.Store(path, data)
	}

	return nil
}

// WriteReference writes the given reference on disk. If the
// reference already exists it will be overwritten
func (b *FSBackend) WriteReference(ref *ginternals.Reference) error {
	return b.writeReferenceCAS(ref, casNone, nil)
}

// WriteReferenceSafe writes the given reference on disk.
// ErrRefExists is returned if the reference already exists
func (b *FSBackend) WriteReferenceSafe(ref *ginternals.Reference) error {
	return b.writeReferenceCAS(ref, casMustNotExist, nil)
}

// CompareAndSwapReference writes ref only if its current value is an
// oid reference pointing at expectedOldOid. See the Backend interface
// for the full contract.
func (b *FSBackend) CompareAndSwapReference(ref *ginternals.Reference, expectedOldOid githash.Oid) error {
	expected := []byte(fmt.Sprintf("%s\n", expectedOldOid.String()))
	return b.writeReferenceCAS(ref, casMustEqual, expected)
}

// casMode controls the optimistic-concurrency check writeReferenceCAS
// performs before persisting a reference.
type casMode int

const (
	// casNone performs no check: the reference is always overwritten.
	casNone casMode = iota
	// casMustNotExist fails with ErrRefExists if the reference is
	// already known.
	casMustNotExist
	// casMustEqual fails with ErrConflict unless the reference's
	// current raw content matches the expected value, ignoring the
	// trailing newline (loose refs have one, packed refs don't).
	casMustEqual
)

// writeReferenceCAS persists ref atomically: it creates a
// "<ref-path>.lock" file exclusively, writes the new content, fsyncs
// it, then renames it over the final path. The rename is atomic on
// every platform git supports, so a reader never observes a
// partially-written reference. A reflog entry is appended once the
// rename has succeeded. The lock file also serializes concurrent
// writers, which is what lets the cas checks above be meaningful
// instead of racy.
func (b *FSBackend) writeReferenceCAS(ref *ginternals.Reference, mode casMode, expected []byte) (err error) {
	if !ginternals.IsRefNameValid(ref.Name()) {
		return ginternals.ErrRefNameInvalid
	}

	if b.refTable != nil && strings.HasPrefix(ref.Name(), "refs/") {
		return b.writeReferenceTable(ref, mode, expected)
	}

	var target string
	switch ref.Type() {
	case ginternals.SymbolicReference:
		target = fmt.Sprintf("ref: %s\n", ref.SymbolicTarget())
	case ginternals.OidReference:
		target = fmt.Sprintf("%s\n", ref.Target().String())
	default:
		return fmt.Errorf("reference type %d: %w", ref.Type(), ginternals.ErrUnknownRefType)
	}

	refPath := b.systemPath(ref.Name())
	// Since we can have `/` in the ref name, we need to create
	// the path on the FS
	dir := filepath.Dir(refPath)
	if err = b.fs.MkdirAll(dir, 0o755); err != nil {
		// TODO(melvin): This fails if someone creates a ref
		// named ml/foo and then another ref named ml/foo/bar since
		// foo is a file. We should probably return a better error
		// message in this case (and potentially check this in IsRefNameValid?)
		return fmt.Errorf("could not persist reference to disk: %w", err)
	}

	lockFile, lockPath, err := b.acquireRefLock(refPath)
	if err != nil {
		return err
	}
	// if we return before the rename below, the lock file is still
	// sitting on disk and needs cleaning up
	renamed := false
	defer func() {
		if !renamed {
			_ = b.fs.Remove(lockPath)
		}
	}()

	oldRaw, hadOld := b.refs.Load(ref.Name())
	switch mode {
	case casMustNotExist:
		if hadOld {
			errutil.Close(lockFile, &err)
			return ginternals.ErrRefExists
		}
	case casMustEqual:
		var old []byte
		if hadOld {
			old = oldRaw.([]byte)
		}
		if strings.TrimSpace(string(old)) != strings.TrimSpace(string(expected)) {
			errutil.Close(lockFile, &err)
			return fmt.Errorf("ref %q: %w", ref.Name(), ginternals.ErrConflict)
		}
	}

	data := []byte(target)
	if _, err = lockFile.Write(data); err != nil {
		errutil.Close(lockFile, &err)
		return fmt.Errorf("could not write lock file %s: %w", lockPath, err)
	}
	if err = lockFile.Sync(); err != nil {
		errutil.Close(lockFile, &err)
		return fmt.Errorf("could not fsync lock file %s: %w", lockPath, err)
	}
	if err = lockFile.Close(); err != nil {
		return fmt.Errorf("could not close lock file %s: %w", lockPath, err)
	}

	if err = b.fs.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("could not persist reference to disk: %w", err)
	}
	renamed = true

	if ref.Type() == ginternals.OidReference {
		oldOid := b.hash.NullOid().String()
		if hadOld {
			if s := strings.TrimSpace(string(oldRaw.([]byte))); !strings.HasPrefix(s, "ref:") {
				oldOid = s
			}
		}
		if err = b.appendReflog(ref.Name(), oldOid, ref.Target().String()); err != nil {
			return fmt.Errorf("could not append to reflog for %s: %w", ref.Name(), err)
		}
	}

	b.refs.Store(ref.Name(), data)
	return nil
}

// acquireRefLock creates refPath+".lock" exclusively, retrying with a
// randomized backoff while another writer holds it.
// ginternals.ErrLocked is returned once lockAcquireTimeout has elapsed.
func (b *FSBackend) acquireRefLock(refPath string) (afero.File, string, error) {
	lockPath := refPath + ".lock"
	deadline := time.Now().Add(lockAcquireTimeout)
	delay := lockPollInterval*3/4 + time.Duration(rand.Int63n(int64(lockPollInterval/2))) //nolint:gosec // jitter doesn't need to be cryptographically random
	backoff := func() {
		time.Sleep(delay)
		if delay *= 2; delay > lockAcquireTimeout {
			delay = lockAcquireTimeout
		}
	}
	for {
		f, err := b.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			// O_EXCL already serializes us against other writers on a
			// POSIX filesystem; flock is a best-effort second layer
			// for filesystems (notably some NFS setups) where O_EXCL
			// isn't fully reliable. It's skipped silently when the
			// backing fs isn't a real *os.File (e.g. in-memory tests).
			if osFile, ok := f.(*os.File); ok {
				if locked, lockErr := filelock.TryLock(osFile); lockErr == nil && !locked {
					_ = f.Close()
					_ = b.fs.Remove(lockPath)
					if time.Now().After(deadline) {
						return nil, "", fmt.Errorf("ref lock %s: %w", lockPath, ginternals.ErrLocked)
					}
					backoff()
					continue
				}
			}
			return f, lockPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("could not create lock file %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			return nil, "", fmt.Errorf("ref lock %s: %w", lockPath, ginternals.ErrLocked)
		}
		backoff()
	}
}

// writeReferenceTable persists ref as a new entry in b.refTable
// instead of a loose file, applying the same casMode semantics as
// writeReferenceCAS does for the file-per-ref backend. For an oid
// reference, a reflog entry recording the previous and the new target
// is then committed as a separate table.
func (b *FSBackend) writeReferenceTable(ref *ginternals.Reference, mode casMode, expected []byte) error {
	rec := reftable.RefRecord{Name: ref.Name(), UpdateIndex: b.refTable.NextUpdateIndex()}
	switch ref.Type() {
	case ginternals.SymbolicReference:
		rec.Type = reftable.ValueSymbolic
		rec.SymTarget = ref.SymbolicTarget()
	case ginternals.OidReference:
		rec.Type = reftable.ValueDirect
		rec.Target = ref.Target()
	default:
		return fmt.Errorf("reference type %d: %w", ref.Type(), ginternals.ErrUnknownRefType)
	}

	oldOid := b.hash.NullOid()
	if old, ok := b.refTable.Ref(ref.Name()); ok && old.Type == reftable.ValueDirect {
		oldOid = old.Target
	}

	var writeErr error
	switch mode {
	case casMustNotExist:
		writeErr = b.refTable.AddRefSafe(rec)
	case casMustEqual:
		expectedOid, err := b.hash.ConvertFromChars(bytes.TrimSpace(expected))
		if err != nil {
			return fmt.Errorf("invalid expected oid for %s: %w", ref.Name(), err)
		}
		writeErr = b.refTable.CompareAndSwapRef(rec, expectedOid)
	default:
		writeErr = b.refTable.AddRefs([]reftable.RefRecord{rec})
	}
	if writeErr != nil {
		return writeErr
	}

	if ref.Type() == ginternals.OidReference {
		userName, ok := b.config.FromFile().UserName()
		if !ok || userName == "" {
			userName = "unknown"
		}
		userEmail, ok := b.config.FromFile().UserEmail()
		if !ok || userEmail == "" {
			userEmail = "unknown@localhost"
		}
		now := time.Now()
		return b.refTable.AddReflog([]reftable.LogRecord{{ //nolint:wrapcheck // the error is already descriptive
			RefName:       ref.Name(),
			UpdateIndex:   rec.UpdateIndex,
			Old:           oldOid,
			New:           ref.Target(),
			CommitterName: userName,
			Email:         userEmail,
			Time:          now.Unix(),
			TZOffset:      0,
			Message:       fmt.Sprintf("update %s -> %s", oldOid.String(), ref.Target().String()),
		}})
	}

	return nil
}

// appendReflog appends a single entry to logs/<name>, creating the
// file and its parent directories if needed, then fsyncs it so the
// entry survives a crash right after the rename that made it true.
func (b *FSBackend) appendReflog(name, oldOid, newOid string) (err error) {
	logPath := filepath.Join(b.Path(), "logs", filepath.FromSlash(name))
	if err = b.fs.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("could not create reflog directory for %s: %w", logPath, err)
	}

	userName, ok := b.config.FromFile().UserName()
	if !ok || userName == "" {
		userName = "unknown"
	}
	userEmail, ok := b.config.FromFile().UserEmail()
	if !ok || userEmail == "" {
		userEmail = "unknown@localhost"
	}

	now := time.Now()
	line := fmt.Sprintf("%s %s %s <%s> %d %s\n", oldOid, newOid, userName, userEmail, now.Unix(), now.Format("-0700"))

	f, err := b.fs.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("could not open reflog %s: %w", logPath, err)
	}
	defer errutil.Close(f, &err)

	if _, err = f.Write([]byte(line)); err != nil {
		return fmt.Errorf("could not write reflog %s: %w", logPath, err)
	}
	return f.Sync() //nolint:wrapcheck // the error message is already pretty descriptive
}

// WalkReferences runs the provided method on all the references
func (b *FSBackend) WalkReferences(f RefWalkFunc) error {
	if b.refTable != nil {
		for _, rec := range b.refTable.Refs() {
			ref, err := b.Reference(rec.Name)
			if err != nil {
				return fmt.Errorf("could not resolve reference %s: %w", rec.Name, err)
			}
			if err = f(ref); err != nil {
				if err != WalkStop { //nolint:errorlint,goerr113 // it's a fake error so no need to use Error.Is()
					return err
				}
				return nil
			}
		}
	}

	var topError error
	b.refs.Range(func(key, value interface{}) bool {
		name, ok := key.(string)
		if !ok {
			//nolint:goerr113 // no need to wrap the error, this would only be caused by a bug in the codebase
			topError = fmt.Errorf("invalid key type for %s. expected string got %T", name, key)
			return false
		}
		ref, err := b.Reference(name)
		if err != nil {
			topError = fmt.Errorf("could not resolve reference %s: %w", name, err)
			return false
		}

		if err = f(ref); err != nil {
			if err != WalkStop { //nolint:errorlint,goerr113 // it's a fake error so no need to use Error.Is()
				topError = err
			}
			return false
		}
		return true
	})

	return topError
}
