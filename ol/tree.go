package ol

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

type Kind int

const (
	Primitive Kind = iota
	Record         // map[string]any
	List           // *[]any, or a plain []any
	Map            // map[any]any
	Set            // mapset.Set[any]
)

func (k Kind) String() string {
	switch k {
	case Record:
		return "record"
	case List:
		return "list"
	case Map:
		return "map"
	case Set:
		return "set"
	default:
		return "primitive"
	}
}

// KindOf classifies a tree value. Nil composites are primitives so they are
// never wrapped or descended into.
func KindOf(v any) Kind {
	switch n := v.(type) {
	case map[string]any:
		if n != nil {
			return Record
		}
	case *[]any:
		if n != nil {
			return List
		}
	case []any:
		if n != nil {
			return List
		}
	case map[any]any:
		if n != nil {
			return Map
		}
	case mapset.Set[any]:
		return Set
	}
	return Primitive
}

func IsNil(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case map[string]any:
		return n == nil
	case *[]any:
		return n == nil
	case []any:
		return n == nil
	case map[any]any:
		return n == nil
	}
	return false
}

// Items returns the elements of a list node.
func Items(v any) ([]any, bool) {
	switch n := v.(type) {
	case *[]any:
		if n == nil {
			return nil, false
		}
		return *n, true
	case []any:
		return n, n != nil
	}
	return nil, false
}

// Child looks up the value stored under k in node.
func Child(node any, k Key) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		name, ok := k.Raw().(string)
		if !ok {
			return nil, false
		}
		v, ok := n[name]
		return v, ok
	case map[any]any:
		raw := k.Raw()
		if !hashable(raw) {
			return nil, false
		}
		v, ok := n[raw]
		return v, ok
	case mapset.Set[any]:
		raw := k.Raw()
		if !hashable(raw) || !n.Contains(raw) {
			return nil, false
		}
		return raw, true
	}
	if items, ok := Items(node); ok {
		i, ok := k.Raw().(int)
		if !ok || i < 0 || i >= len(items) {
			return nil, false
		}
		return items[i], true
	}
	return nil, false
}

func setChild(node any, k Key, v any) bool {
	switch n := node.(type) {
	case map[string]any:
		name, ok := k.Raw().(string)
		if ok {
			n[name] = v
		}
		return ok
	case map[any]any:
		n[k.Raw()] = v
		return true
	}
	if items, ok := Items(node); ok {
		i, ok := k.Raw().(int)
		if !ok || i < 0 || i >= len(items) {
			return false
		}
		items[i] = v
		return true
	}
	return false
}

// Normalize returns v with every plain slice nested in it turned into a
// *[]any, so list replacements can keep identity. v itself is left alone:
// containers on the way to a converted slice are copied, everything else is
// shared. A container reached twice is converted once, which keeps aliasing.
func Normalize(v any) any {
	return normalizer{}.value(v)
}

type ref struct {
	ptr uintptr
	len int
}

// normalizer remembers the containers it already converted.
type normalizer map[ref]any

func (nz normalizer) value(v any) any {
	switch n := v.(type) {
	case []any:
		if n == nil {
			return v
		}
		r := ref{reflect.ValueOf(n).Pointer(), len(n)}
		if done, ok := nz[r]; ok && len(n) > 0 {
			return done
		}
		items := make([]any, len(n))
		out := &items
		if len(n) > 0 {
			nz[r] = out
		}
		for i, item := range n {
			items[i] = nz.value(item)
		}
		return out
	case *[]any:
		if n == nil {
			return v
		}
		r := ref{ptr: reflect.ValueOf(n).Pointer()}
		if done, ok := nz[r]; ok {
			return done
		}
		nz[r] = v
		var out []any
		for i, item := range *n {
			if conv := nz.value(item); !same(conv, item) {
				if out == nil {
					out = slices.Clone(*n)
					nz[r] = &out
				}
				out[i] = conv
			}
		}
		if out == nil {
			return v
		}
		return &out
	case map[string]any:
		if n == nil {
			return v
		}
		r := ref{ptr: reflect.ValueOf(n).Pointer()}
		if done, ok := nz[r]; ok {
			return done
		}
		nz[r] = v
		var out map[string]any
		for k, item := range n {
			if conv := nz.value(item); !same(conv, item) {
				if out == nil {
					out = maps.Clone(n)
					nz[r] = out
				}
				out[k] = conv
			}
		}
		if out == nil {
			return v
		}
		return out
	case map[any]any:
		if n == nil {
			return v
		}
		r := ref{ptr: reflect.ValueOf(n).Pointer()}
		if done, ok := nz[r]; ok {
			return done
		}
		nz[r] = v
		var out map[any]any
		for k, item := range n {
			if conv := nz.value(item); !same(conv, item) {
				if out == nil {
					out = maps.Clone(n)
					nz[r] = out
				}
				out[k] = conv
			}
		}
		if out == nil {
			return v
		}
		return out
	}
	return v
}

// same reports whether normalizing left item untouched. Only containers are
// ever replaced, so a pointer comparison of composites is enough.
func same(conv, item any) bool {
	switch it := item.(type) {
	case []any:
		return it == nil
	case *[]any, map[string]any, map[any]any:
		return reflect.ValueOf(conv).Pointer() == reflect.ValueOf(item).Pointer()
	}
	return true
}

// Clone deep-copies a tree. Plain slices stay plain, list pointers get a new pointer.
func Clone(v any) any {
	switch n := v.(type) {
	case map[string]any:
		if n == nil {
			return n
		}
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = Clone(item)
		}
		return out
	case map[any]any:
		if n == nil {
			return n
		}
		out := make(map[any]any, len(n))
		for k, item := range n {
			out[k] = Clone(item)
		}
		return out
	case *[]any:
		if n == nil {
			return n
		}
		out := cloneItems(*n)
		return &out
	case []any:
		if n == nil {
			return n
		}
		return cloneItems(n)
	case mapset.Set[any]:
		return n.Clone()
	}
	return v
}

func cloneItems(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = Clone(item)
	}
	return out
}

// Plain converts a tree into json/yaml friendly values: lists become []any,
// maps get string keys and sets become element lists.
func Plain(v any) any {
	switch n := v.(type) {
	case map[string]any:
		if n == nil {
			return nil
		}
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = Plain(item)
		}
		return out
	case map[any]any:
		if n == nil {
			return nil
		}
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[fmt.Sprint(k)] = Plain(item)
		}
		return out
	case mapset.Set[any]:
		out := make([]any, 0, n.Cardinality())
		for _, item := range n.ToSlice() {
			out = append(out, Plain(item))
		}
		return out
	}
	if items, ok := Items(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = Plain(item)
		}
		return out
	}
	return v
}
