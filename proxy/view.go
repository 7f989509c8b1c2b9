// Package proxy hands out read-only views over a state tree. Every view
// remembers the path that reached it, and write-intents on a view are
// reported as path-tagged actions instead of being applied.
//
// Go cannot intercept field access, so data is read through explicit
// accessors (Get, At, Lookup) and writes through Mutate, Replace and Update.
// A record field literally named "mutate" stays reachable with Get.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kevinxiao27/mutstate/ol"
	"github.com/sanity-io/litter"
)

// OnWrite receives every write-intent raised through a view.
type OnWrite func(path ol.Path, action ol.Action)

type View struct {
	value   any
	kind    ol.Kind
	path    ol.Path
	onWrite OnWrite
	guard   sync.Locker
}

// Wrap returns primitives (and nil composites) unchanged and a *View for
// records, lists, maps and sets. Nothing below value is visited until read.
func Wrap(value any, path ol.Path, onWrite OnWrite) any {
	return WrapGuarded(value, path, onWrite, nil)
}

// WrapGuarded is Wrap for a tree that another goroutine may write. Every read
// through the view, and through views derived from it, holds guard. Pass the
// read half of the writer's lock, e.g. (*sync.RWMutex).RLocker().
func WrapGuarded(value any, path ol.Path, onWrite OnWrite, guard sync.Locker) any {
	kind := ol.KindOf(value)
	if kind == ol.Primitive {
		return value
	}
	if onWrite == nil {
		onWrite = func(ol.Path, ol.Action) {}
	}
	return &View{value: value, kind: kind, path: path, onWrite: onWrite, guard: guard}
}

func (v *View) lock() (unlock func()) {
	if v.guard == nil {
		return func() {}
	}
	v.guard.Lock()
	return v.guard.Unlock
}

func IsView(v any) bool {
	_, ok := v.(*View)
	return ok
}

func PathOf(v any) (ol.Path, bool) {
	view, ok := v.(*View)
	if !ok {
		return nil, false
	}
	return view.Path(), true
}

func (v *View) IsView() bool { return true }

func (v *View) Path() ol.Path { return v.path.Clone() }

func (v *View) Kind() ol.Kind { return v.kind }

// Child reads the value under k, wrapped. Missing keys read as nil.
func (v *View) Child(k ol.Key) any {
	child, ok := v.lookup(k)
	if !ok {
		return nil
	}
	return WrapGuarded(child, v.path.Append(k), v.onWrite, v.guard)
}

func (v *View) lookup(k ol.Key) (any, bool) {
	unlock := v.lock()
	defer unlock()
	return ol.Child(v.value, k)
}

func (v *View) Get(name string) any { return v.Child(ol.Name(name)) }

func (v *View) At(i int) any { return v.Child(ol.Index(i)) }

// Lookup reads a map entry or set element by its raw key.
func (v *View) Lookup(key any) any { return v.Child(keyFor(key)) }

func (v *View) Has(key any) bool {
	_, ok := v.lookup(keyFor(key))
	return ok
}

// Walk follows path from this view.
func (v *View) Walk(path ol.Path) (any, bool) {
	var cur any = v
	for _, k := range path {
		view, ok := cur.(*View)
		if !ok {
			return nil, false
		}
		child, ok := view.lookup(k)
		if !ok {
			return nil, false
		}
		cur = WrapGuarded(child, view.path.Append(k), view.onWrite, view.guard)
	}
	return cur, true
}

func (v *View) Len() int {
	unlock := v.lock()
	defer unlock()
	return v.len()
}

func (v *View) len() int {
	switch n := v.value.(type) {
	case map[string]any:
		return len(n)
	case map[any]any:
		return len(n)
	case mapset.Set[any]:
		return n.Cardinality()
	}
	items, _ := ol.Items(v.value)
	return len(items)
}

// Keys lists the child keys in a stable order: indices for lists, sorted
// names for records, sorted tokens for maps and sets.
func (v *View) Keys() []ol.Key {
	unlock := v.lock()
	defer unlock()

	var keys []ol.Key
	switch n := v.value.(type) {
	case map[string]any:
		names := make([]string, 0, len(n))
		for name := range n {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			keys = append(keys, ol.Name(name))
		}
		return keys
	case map[any]any:
		for k := range n {
			keys = append(keys, keyFor(k))
		}
	case mapset.Set[any]:
		for _, elem := range n.ToSlice() {
			keys = append(keys, keyFor(elem))
		}
	default:
		for i := range v.len() {
			keys = append(keys, ol.Index(i))
		}
		return keys
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Raw()) < fmt.Sprint(keys[j].Raw())
	})
	return keys
}

func (v *View) Each(fn func(k ol.Key, child any)) {
	for _, k := range v.Keys() {
		fn(k, v.Child(k))
	}
}

// Mutate records fn to be run against the real node at commit time. fn must
// not read through views of the same guarded tree.
func (v *View) Mutate(fn ol.Mutation) {
	v.onWrite(v.Path(), ol.MutateAction(fn))
}

// Replace swaps the node's contents for with's at commit time. with is not
// modified; containers below it that hold no plain slices are shared with the
// tree.
func (v *View) Replace(with any) {
	v.onWrite(v.Path(), ol.ReplaceAction(with))
}

// Update merges partial into a record at commit time. Values are taken as
// with Replace.
func (v *View) Update(partial map[string]any) {
	v.onWrite(v.Path(), ol.UpdateAction(partial))
}

// Snapshot returns a deep copy of the node, detached from the tree.
func (v *View) Snapshot() any {
	unlock := v.lock()
	defer unlock()
	return ol.Clone(v.value)
}

func (v *View) plain() any {
	unlock := v.lock()
	defer unlock()
	return ol.Plain(v.value)
}

func (v *View) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.plain())
}

func (v *View) String() string {
	return fmt.Sprintf("%s %s", v.path, litter.Options{Compact: true}.Sdump(v.plain()))
}

func keyFor(raw any) ol.Key {
	return ol.PathOf(raw)[0]
}

var errNotView = errors.New("not a view")
