// Package record defines the record kinds, identities and amounts shared by
// the store, the admission gate and the transports.
package record

import (
	"fmt"
	"strings"
)

// Kind is one of the four record namespaces.
type Kind uint8

const (
	A Kind = iota + 1
	AAAA
	ContentHash
	TXT
)

var kinds = [...]Kind{A, AAAA, ContentHash, TXT}

// Kinds returns all record kinds in a fixed order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds[:])
	return out
}

func (k Kind) String() string {
	switch k {
	case A:
		return "A"
	case AAAA:
		return "AAAA"
	case ContentHash:
		return "ContentHash"
	case TXT:
		return "TXT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// LogName is the label used for this kind in audit lines.
func (k Kind) LogName() string {
	if k == ContentHash {
		return "content_hash"
	}
	return k.String()
}

// Namespace returns the backing store prefix of this kind.
// Prefixes must stay stable, they are part of the persisted layout.
func (k Kind) Namespace() string {
	switch k {
	case A:
		return "a"
	case AAAA:
		return "b"
	case ContentHash:
		return "c"
	case TXT:
		return "t"
	default:
		return ""
	}
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	return k >= A && k <= TXT
}

// ParseKind parses a kind name. It is case-insensitive and also accepts
// "content_hash" and "contenthash" for ContentHash.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return A, nil
	case "aaaa":
		return AAAA, nil
	case "content_hash", "contenthash", "content-hash":
		return ContentHash, nil
	case "txt":
		return TXT, nil
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}

// Owner is an externally validated caller identity. The store never checks it.
type Owner string

// Amount is a payment attached to a mutating call.
type Amount uint64

// Action tells whether an upsert created a new entry or overwrote one.
type Action uint8

const (
	Created Action = iota + 1
	Updated
)

// Verb returns "set" for Created and "update" for Updated.
func (a Action) Verb() string {
	switch a {
	case Created:
		return "set"
	case Updated:
		return "update"
	default:
		return "unknown"
	}
}

func (a Action) String() string {
	return a.Verb()
}
