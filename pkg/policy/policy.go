// Package policy declares which cached reads each mutation makes stale.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"escola-client/pkg/cache"
)

// Kind is the shape of a mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Kinds lists every mutation kind.
var Kinds = []Kind{KindCreate, KindUpdate, KindDelete}

// ErrIncomplete is returned when a rule set misses a list-shaped prefix of its entity.
var ErrIncomplete = errors.New("policy: incomplete invalidation rules")

// Rules are the prefixes invalidated after each kind of mutation.
type Rules struct {
	OnCreate []cache.Key
	OnUpdate []cache.Key
	OnDelete []cache.Key
}

// For returns the prefixes for kind.
func (r Rules) For(kind Kind) []cache.Key {
	switch kind {
	case KindCreate:
		return r.OnCreate
	case KindUpdate:
		return r.OnUpdate
	case KindDelete:
		return r.OnDelete
	default:
		return nil
	}
}

// ForEntity returns the baseline rules of an entity: its list and complete
// groups are invalidated by every kind of mutation.
func ForEntity(entity string) Rules {
	base := func() []cache.Key {
		return []cache.Key{
			cache.Prefix(entity, cache.ScopeList),
			cache.Prefix(entity, cache.ScopeComplete),
		}
	}
	return Rules{OnCreate: base(), OnUpdate: base(), OnDelete: base()}
}

// Also returns a copy of r with prefixes added to the given kinds
// (every kind when none are given). Duplicates are skipped.
func (r Rules) Also(prefixes []cache.Key, kinds ...Kind) Rules {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	out := Rules{
		OnCreate: append([]cache.Key(nil), r.OnCreate...),
		OnUpdate: append([]cache.Key(nil), r.OnUpdate...),
		OnDelete: append([]cache.Key(nil), r.OnDelete...),
	}
	for _, kind := range kinds {
		switch kind {
		case KindCreate:
			out.OnCreate = appendUnique(out.OnCreate, prefixes...)
		case KindUpdate:
			out.OnUpdate = appendUnique(out.OnUpdate, prefixes...)
		case KindDelete:
			out.OnDelete = appendUnique(out.OnDelete, prefixes...)
		}
	}
	return out
}

func appendUnique(dst []cache.Key, keys ...cache.Key) []cache.Key {
	for _, k := range keys {
		dup := false
		for _, existing := range dst {
			if existing.Equal(k) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, k)
		}
	}
	return dst
}

// Policy maps entity names to their invalidation rules.
type Policy map[string]Rules

// New builds a policy with baseline rules for every entity.
func New(entities ...string) Policy {
	p := make(Policy, len(entities))
	for _, e := range entities {
		p[e] = ForEntity(e)
	}
	return p
}

// Rules returns the rules of entity, or the baseline when it is not declared.
func (p Policy) Rules(entity string) Rules {
	if r, ok := p[entity]; ok {
		return r
	}
	return ForEntity(entity)
}

// Prefixes returns the prefixes invalidated by a mutation of kind on entity.
func (p Policy) Prefixes(entity string, kind Kind) []cache.Key {
	return p.Rules(entity).For(kind)
}

// Add declares extra prefixes for entity, keeping the baseline.
func (p Policy) Add(entity string, prefixes []cache.Key, kinds ...Kind) {
	p[entity] = p.Rules(entity).Also(prefixes, kinds...)
}

// Entities returns the declared entity names in order.
func (p Policy) Entities() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every kind of every entity invalidates the entity's
// list and complete groups, and that every prefix is a valid key.
func (p Policy) Validate() error {
	var problems []string
	for _, entity := range p.Entities() {
		rules := p[entity]
		required := ForEntity(entity).OnCreate
		for _, kind := range Kinds {
			prefixes := rules.For(kind)
			for _, prefix := range prefixes {
				if err := prefix.Validate(); err != nil {
					problems = append(problems, fmt.Sprintf("%s %s: %v", entity, kind, err))
				}
			}
			for _, want := range required {
				if !covered(prefixes, want) {
					problems = append(problems, fmt.Sprintf("%s %s: missing %s", entity, kind, want))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(problems, "; "))
	}
	return nil
}

// covered reports whether invalidating prefixes would also invalidate want.
func covered(prefixes []cache.Key, want cache.Key) bool {
	for _, p := range prefixes {
		if want.HasPrefix(p) {
			return true
		}
	}
	return false
}

// ParsePrefix parses "turmas/alunos" style configuration into a key prefix.
func ParsePrefix(s string) (cache.Key, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", cache.ErrInvalidKey, s)
		}
	}
	key := cache.Prefix(parts...)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Extend adds configured cross-entity prefixes, given as entity -> paths,
// to every kind of mutation of that entity.
func (p Policy) Extend(extra map[string][]string) error {
	for entity, paths := range extra {
		prefixes := make([]cache.Key, 0, len(paths))
		for _, path := range paths {
			prefix, err := ParsePrefix(path)
			if err != nil {
				return fmt.Errorf("policy: %s: %w", entity, err)
			}
			prefixes = append(prefixes, prefix)
		}
		p.Add(entity, prefixes)
	}
	return nil
}
