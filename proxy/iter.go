package proxy

import (
	"github.com/kevinxiao27/mutstate/ol"
	"github.com/kevinxiao27/mutstate/util"
)

// Elements returns every child of v wrapped with its own path segment, in
// Keys order. For lists that is index order.
func Elements(v *View) []any {
	keys := v.Keys()
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = v.Child(k)
	}
	return out
}

func ForEach(v *View, fn func(i int, elem any)) {
	for i, elem := range Elements(v) {
		fn(i, elem)
	}
}

func Map[T any](v *View, fn func(i int, elem any) T) []T {
	elems := Elements(v)
	out := make([]T, len(elems))
	for i, elem := range elems {
		out[i] = fn(i, elem)
	}
	return out
}

// Filter keeps the wrapped elements for which keep returns true. Kept views
// still carry the path of their original position.
func Filter(v *View, keep func(elem any) bool) []any {
	return util.Filter(Elements(v), keep)
}

// Find returns the first wrapped element matching pred.
func Find(v *View, pred func(elem any) bool) (any, bool) {
	for _, elem := range Elements(v) {
		if pred(elem) {
			return elem, true
		}
	}
	return nil, false
}

// Paths lists the paths of the composite children of v.
func Paths(v *View) []ol.Path {
	return util.MapN(Elements(v), func(elem any) (ol.Path, error) {
		p, ok := PathOf(elem)
		if !ok {
			return nil, errNotView
		}
		return p, nil
	})
}
