package cache

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// MaxKeyLength is the maximum length of a serialized key.
const MaxKeyLength = 1024

// Well-known second segments of entity keys.
const (
	ScopeList     = "list"
	ScopeDetail   = "detail"
	ScopeComplete = "complete"
)

// Key is an ordered, hierarchical cache key such as
// {"turmas", "list", params} or {"turmas", "detail", "5"}.
//
// Keys sharing a prefix form an invalidation group: invalidating
// {"turmas", "list"} affects every key that starts with it regardless
// of the trailing params.
type Key []any

// ListKey builds the key of a paginated list read.
func ListKey(entity string, params any) Key {
	return scoped(entity, ScopeList, params)
}

// CompleteKey builds the key of an unpaginated ("complete") list read.
func CompleteKey(entity string, params any) Key {
	return scoped(entity, ScopeComplete, params)
}

// DetailKey builds the key of a single record. Ids are normalized to
// strings so that 5 and "5" address the same entry.
func DetailKey(entity string, id any) Key {
	return Key{entity, ScopeDetail, fmt.Sprint(id)}
}

// Prefix builds an invalidation prefix from plain segments.
func Prefix(parts ...string) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = p
	}
	return k
}

func scoped(entity, scope string, params any) Key {
	if params == nil {
		return Key{entity, scope}
	}
	return Key{entity, scope, params}
}

// Entity returns the first segment when it is a string.
func (k Key) Entity() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Append returns a copy of k with parts added.
func (k Key) Append(parts ...any) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// Segments returns the canonical serialization of every element.
// Maps are encoded with sorted keys so equal params give equal segments.
func (k Key) Segments() []string {
	segs := make([]string, len(k))
	for i, part := range k {
		segs[i] = segment(part)
	}
	return segs
}

// String returns the canonical serialized form used as the map key.
func (k Key) String() string {
	return "[" + strings.Join(k.Segments(), ",") + "]"
}

// HasPrefix reports whether every element of prefix equals the
// corresponding element of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return HasSegmentPrefix(k.Segments(), prefix.Segments())
}

// Equal reports whether both keys serialize identically.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.String() == other.String()
}

// HasSegmentPrefix is HasPrefix over already serialized segments.
func HasSegmentPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Validate checks that a key can address a cache entry.
//
// Rules:
// - at least one element
// - the first element is a non-empty entity name without control characters
// - serialized length of at most MaxKeyLength
func (k Key) Validate() error {
	if len(k) == 0 {
		return ErrInvalidKey
	}
	entity := k.Entity()
	if entity == "" {
		return fmt.Errorf("%w: first element must be a non-empty entity name", ErrInvalidKey)
	}
	for _, r := range entity {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: entity contains control character", ErrInvalidKey)
		}
	}
	if strings.TrimSpace(entity) != entity {
		return fmt.Errorf("%w: entity has leading or trailing whitespace", ErrInvalidKey)
	}
	if len(k.String()) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}
	return nil
}

func segment(part any) string {
	b, err := json.Marshal(part)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(part))
	}
	return string(b)
}
