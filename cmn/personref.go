package cmn

import (
	"encoding/hex"
	"strings"
)

// PersonRefKind tags a PersonRef the way cmn.Bck tags a bucket's Provider:
// a small closed enum, structural equality, no runtime type reflection.
type PersonRefKind uint8

const (
	PersonRefPrincipal PersonRefKind = iota
	PersonRefOpaque
)

// PersonRef is a tagged reference to a principal or an opaque identifier.
// Equality and ordering are structural.
type PersonRef struct {
	Kind      PersonRefKind `json:"kind"`
	Principal []byte        `json:"principal,omitempty"`
	Opaque    string        `json:"opaque,omitempty"`
}

func NewPrincipal(b []byte) PersonRef { return PersonRef{Kind: PersonRefPrincipal, Principal: b} }
func NewOpaque(s string) PersonRef    { return PersonRef{Kind: PersonRefOpaque, Opaque: s} }

// PersonRefKey is the flattened, comparable string form of a PersonRef,
// usable as a Go map key and as a buntdb index field — a structural key
// flattened to a string, with an inverse-able prefix, the same shape as
// cmn.Bck.MakeUname/ParseUname.
type PersonRefKey string

const (
	principalPrefix = "p:"
	opaquePrefix    = "o:"
)

func (p PersonRef) Key() PersonRefKey {
	switch p.Kind {
	case PersonRefPrincipal:
		return PersonRefKey(principalPrefix + hex.EncodeToString(p.Principal))
	default:
		return PersonRefKey(opaquePrefix + p.Opaque)
	}
}

func (p PersonRef) Equal(o PersonRef) bool { return p.Key() == o.Key() }

func (p PersonRef) Less(o PersonRef) bool { return p.Key() < o.Key() }

func (p PersonRef) String() string { return string(p.Key()) }

// ParsePersonRefKey is the inverse of PersonRef.Key, used when a caller only
// has the flattened index key (e.g. reading an owner-index scan result) and
// needs to recover enough of the original to compare against a live PersonRef.
func ParsePersonRefKey(k PersonRefKey) (PersonRef, bool) {
	s := string(k)
	switch {
	case strings.HasPrefix(s, principalPrefix):
		b, err := hex.DecodeString(strings.TrimPrefix(s, principalPrefix))
		if err != nil {
			return PersonRef{}, false
		}
		return NewPrincipal(b), true
	case strings.HasPrefix(s, opaquePrefix):
		return NewOpaque(strings.TrimPrefix(s, opaquePrefix)), true
	default:
		return PersonRef{}, false
	}
}
