package attributes

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/automerge/automerge-go"
)

// Normalize converts v into the plain form the document stores and returns: maps become
// map[string]any, slices []any, integers int64 and floats float64. Structs go through their JSON
// encoding. The result never aliases v.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		return normalizeUint(uint64(t))
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t), nil
	case []byte:
		return append([]byte(nil), t...), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("failed to normalize key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("failed to normalize index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeUint(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return int64(u), nil
}

func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Struct:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", rv.Type(), err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", rv.Type(), err)
		}
		return Normalize(out)
	}
	return nil, fmt.Errorf("unsupported attribute value of type %T", rv.Interface())
}

// plain converts a document value into its plain Go form.
func plain(v *automerge.Value) (any, error) {
	switch v.Kind() {
	case automerge.KindVoid, automerge.KindNull:
		return nil, nil
	case automerge.KindBool:
		return v.Bool(), nil
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindInt64:
		return v.Int64(), nil
	case automerge.KindUint64:
		return normalizeUint(v.Uint64())
	case automerge.KindFloat64:
		return v.Float64(), nil
	case automerge.KindBytes:
		return v.Bytes(), nil
	case automerge.KindTime:
		return v.Time().UnixMilli(), nil
	case automerge.KindCounter:
		return v.Counter().Get()
	case automerge.KindText:
		return v.Text().Get()
	case automerge.KindMap:
		values, err := v.Map().Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read map: %w", err)
		}
		return plainMap(values)
	case automerge.KindList:
		values, err := v.List().Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read list: %w", err)
		}
		out := make([]any, len(values))
		for i, e := range values {
			p, err := plain(e)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported document value kind %v", v.Kind())
}

func plainMap(values map[string]*automerge.Value) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, e := range values {
		p, err := plain(e)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}

// Equal compares plain values.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Diff produces leaf-level events turning before into after, rooted at path. Maps present on
// both sides are descended into; anything else that differs is a single Updated event.
func Diff(path []string, before, after any) []Event {
	bm, bIsMap := before.(map[string]any)
	am, aIsMap := after.(map[string]any)
	if bIsMap && aIsMap {
		keys := make([]string, 0, len(bm)+len(am))
		for k := range bm {
			keys = append(keys, k)
		}
		for k := range am {
			if _, ok := bm[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var out []Event
		for _, k := range keys {
			bv, inBefore := bm[k]
			av, inAfter := am[k]
			child := Child(path, k)
			switch {
			case inBefore && !inAfter:
				out = append(out, Event{Kind: Removed, Path: child, OldValue: bv})
			case !inBefore && inAfter:
				out = append(out, Event{Kind: Inserted, Path: child, NewValue: av})
			default:
				out = append(out, Diff(child, bv, av)...)
			}
		}
		return out
	}
	if Equal(before, after) {
		return nil
	}
	return []Event{{Kind: Updated, Path: path, OldValue: before, NewValue: after}}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSegments(path []string) []interface{} {
	out := make([]interface{}, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}
