package storage

import (
	"reflect"

	"github.com/oklog/ulid/v2"
)

const (
	refKeyField   = "k"
	refValueField = "v"
	refMarker     = "__isRef"
)

// refCache remembers which local object a RefValue key stands for, so echoes of our own writes
// resolve to the object the caller handed us rather than a decoded copy.
type refCache struct {
	keysByIdentity map[uintptr]string
	objectsByKey   map[string]any
}

func newRefCache() *refCache {
	return &refCache{
		keysByIdentity: make(map[uintptr]string),
		objectsByKey:   make(map[string]any),
	}
}

// identity returns a stable handle for reference-like values: maps and pointers. Slices are
// left out because an append within capacity keeps the same backing array; they are diffed by
// value instead.
func identity(v any) (uintptr, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

func isObject(v any) bool {
	_, ok := identity(v)
	return ok
}

// keyFor returns the existing key for obj or mints a new one.
func (c *refCache) keyFor(obj any) string {
	id, _ := identity(obj)
	if k, ok := c.keysByIdentity[id]; ok {
		return k
	}
	k := ulid.Make().String()
	c.keysByIdentity[id] = k
	c.objectsByKey[k] = obj
	return k
}

// resolve returns the local object for key, adopting decoded when the key is new to us.
func (c *refCache) resolve(key string, decoded any) any {
	if obj, ok := c.objectsByKey[key]; ok {
		return obj
	}
	c.objectsByKey[key] = decoded
	if id, ok := identity(decoded); ok {
		c.keysByIdentity[id] = key
	}
	return decoded
}

func (c *refCache) forget(key string) {
	obj, ok := c.objectsByKey[key]
	if !ok {
		return
	}
	delete(c.objectsByKey, key)
	if id, ok := identity(obj); ok && c.keysByIdentity[id] == key {
		delete(c.keysByIdentity, id)
	}
}

func boxRef(key string, normalized any) map[string]any {
	return map[string]any{refKeyField: key, refValueField: normalized, refMarker: true}
}

// unboxRef reports the key and payload of a stored RefValue.
func unboxRef(raw any) (string, any, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return "", nil, false
	}
	if marker, _ := m[refMarker].(bool); !marker {
		return "", nil, false
	}
	key, ok := m[refKeyField].(string)
	if !ok || key == "" {
		return "", nil, false
	}
	return key, m[refValueField], true
}
