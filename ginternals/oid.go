package ginternals

import "github.com/Nivl/git-go/ginternals/githash"

// Oid is a convenience alias for githash.Oid, the type every object,
// reference, and tree entry in this package is keyed on.
//
// Most of ginternals is generic over githash.Hash/githash.Oid so a
// repository may run SHA-1 or SHA-256, but the public git package and
// its callers overwhelmingly deal with plain SHA-1 repositories, so
// NewOidFromStr and NullOid default to SHA-1 for convenience.
type Oid = githash.Oid

// sha1 is used to back the SHA-1 convenience helpers below
var sha1 = githash.NewSHA1()

// NullOid is the zero-value SHA-1 Oid
var NullOid = sha1.NullOid()

// NewOidFromStr returns an Oid from its hex SHA-1 representation
// Ex. "9b91da06e69613397b38e0808e0ba5ee6983251b"
func NewOidFromStr(id string) (Oid, error) {
	return sha1.ConvertFromString(id)
}
