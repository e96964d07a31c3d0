package mutation

import (
	"fmt"
	"reflect"

	"escola-client/pkg/cache"

	"github.com/goccy/go-json"
)

// Context is the record kept while an optimistic update is in flight.
// Snapshot is a deep copy of the cached value before the patch; it is what
// a failed update restores.
type Context struct {
	Key         cache.Key
	Snapshot    any
	HasSnapshot bool
	Patched     any
}

// deepCopy copies v through its JSON form, preserving its dynamic type.
func deepCopy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mutation: snapshot %T: %w", v, err)
	}
	return decodeAs(reflect.TypeOf(v), b)
}

// merge shallow-merges the top-level fields of patch over base. The result
// has the dynamic type of base; base itself is not modified.
func merge(base, patch any) (any, error) {
	fields := make(map[string]json.RawMessage)
	if base != nil {
		b, err := json.Marshal(base)
		if err != nil {
			return nil, fmt.Errorf("mutation: encode %T: %w", base, err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("mutation: %T is not an object: %w", base, err)
		}
	}

	if patch != nil {
		b, err := json.Marshal(patch)
		if err != nil {
			return nil, fmt.Errorf("mutation: encode %T: %w", patch, err)
		}
		var over map[string]json.RawMessage
		if err := json.Unmarshal(b, &over); err != nil {
			return nil, fmt.Errorf("mutation: %T is not an object: %w", patch, err)
		}
		for k, v := range over {
			fields[k] = v
		}
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("mutation: encode merged value: %w", err)
	}
	if base == nil {
		return decodeAs(reflect.TypeOf(map[string]any(nil)), b)
	}
	return decodeAs(reflect.TypeOf(base), b)
}

func decodeAs(t reflect.Type, b []byte) (any, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(b, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("mutation: decode into %s: %w", t, err)
	}
	return ptr.Elem().Interface(), nil
}
