package object_test

import (
	"fmt"
	"testing"

	"github.com/Nivl/git-go/ginternals/githash"
	"github.com/Nivl/git-go/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree(t *testing.T) {
	t.Run("o.AsTree().ToObject() should return the same object", func(t *testing.T) {
		t.Parallel()

		hash := githash.NewSHA1()
		blobID := hash.Sum([]byte("blob test"))
		tree := object.NewTree(hash, []object.TreeEntry{
			{Mode: object.ModeFile, ID: blobID, Path: "blob"},
		})

		o := tree.ToObject()
		parsed, err := o.AsTree()
		require.NoError(t, err)

		newO := parsed.ToObject()
		require.Equal(t, o.ID(), newO.ID())
		require.Equal(t, o.Bytes(), newO.Bytes())
		require.Len(t, parsed.Entries(), 1)
		assert.Equal(t, "blob", parsed.Entries()[0].Path)
		assert.Equal(t, blobID, parsed.Entries()[0].ID)
	})

	t.Run("Entries should be immutable", func(t *testing.T) {
		t.Parallel()

		hash := githash.NewSHA1()
		blobID := hash.Sum([]byte("blob test"))
		tree := object.NewTree(hash, []object.TreeEntry{
			{Mode: object.ModeFile, ID: blobID, Path: "blob"},
		})

		entries := tree.Entries()
		entries[0].Path = "nope"
		assert.Equal(t, "blob", tree.Entries()[0].Path, "should not update entry Path")
	})

	t.Run("an empty tree should round-trip", func(t *testing.T) {
		t.Parallel()

		hash := githash.NewSHA1()
		tree := object.NewTree(hash, nil)
		parsed, err := tree.ToObject().AsTree()
		require.NoError(t, err)
		assert.Empty(t, parsed.Entries())
	})
}

func TestTreeObjectMode(t *testing.T) {
	t.Parallel()

	t.Run("ObjectType()", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			desc     string
			mode     object.TreeObjectMode
			expected object.Type
		}{
			{
				desc:     "unknown object should be blob",
				mode:     0o644,
				expected: object.TypeBlob,
			},
			{
				desc:     "ModeFile should be a blob",
				mode:     object.ModeFile,
				expected: object.TypeBlob,
			},
			{
				desc:     "ModeExecutable should be a blob",
				mode:     object.ModeExecutable,
				expected: object.TypeBlob,
			},
			{
				desc:     "ModeSymLink should be a blob",
				mode:     object.ModeSymLink,
				expected: object.TypeBlob,
			},
			{
				desc:     "ModeDirectory should be a tree",
				mode:     object.ModeDirectory,
				expected: object.TypeTree,
			},
			{
				desc:     "ModeGitLink should be a commit",
				mode:     object.ModeGitLink,
				expected: object.TypeCommit,
			},
		}
		for i, tc := range testCases {
			tc := tc
			i := i
			t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
				t.Parallel()

				assert.Equal(t, tc.expected, tc.mode.ObjectType())
			})
		}
	})

	t.Run("IsValid()", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			desc    string
			mode    object.TreeObjectMode
			isValid bool
		}{
			{
				desc:    "0o644 should not be valid",
				mode:    0o644,
				isValid: false,
			},
			{
				desc:    "ModeFile should be valid",
				mode:    object.ModeFile,
				isValid: true,
			},
			{
				desc:    "0o100755 should be valid",
				mode:    0o100755,
				isValid: true,
			},
		}
		for i, tc := range testCases {
			tc := tc
			i := i
			t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
				t.Parallel()

				out := tc.mode.IsValid()
				assert.Equal(t, tc.isValid, out)
			})
		}
	})
}
