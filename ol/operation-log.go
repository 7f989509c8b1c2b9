package ol

import (
	"context"
	"errors"
	"fmt"
	"maps"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrKindMismatch      = errors.New("action does not fit node kind")
	ErrMutationPanicked  = errors.New("mutation panicked")
	ErrUnaddressableList = errors.New("plain list at the root cannot be replaced")
)

// KeyNotFoundError reports a recorded path that no longer exists in the tree.
type KeyNotFoundError struct {
	Key  Key
	Path Path // full path of the failing entry
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("failed to find key %s in %s", e.Key, e.Path)
}

func (e *KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

type MutationPanicError struct {
	Path  Path
	Value any
}

func (e *MutationPanicError) Error() string {
	return fmt.Sprintf("mutation at %s panicked: %v", e.Path, e.Value)
}

func (e *MutationPanicError) Is(target error) bool { return target == ErrMutationPanicked }

// Log is an ordered list of pending entries. It is not safe for concurrent use.
type Log struct {
	entries []Entry
}

func NewLog() *Log {
	return &Log{entries: []Entry{}}
}

func (l *Log) Append(path Path, action Action) {
	l.entries = append(l.entries, Entry{Path: path.Clone(), Action: action})
}

func (l *Log) Len() int { return len(l.entries) }

func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Drain hands back every entry and leaves the log empty.
func (l *Log) Drain() []Entry {
	entries := l.entries
	l.entries = []Entry{}
	return entries
}

func Replay(root any, entries []Entry) error {
	return ReplayContext(context.Background(), root, entries)
}

// ReplayContext applies entries to root in order. It stops at the first
// failing entry; entries before it stay applied.
func ReplayContext(ctx context.Context, root any, entries []Entry) error {
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replay stopped before entry %d: %w", i, err)
		}
		if err := applySingle(root, e); err != nil {
			return fmt.Errorf("replay entry %d (%s %s): %w", i, e.Action.kind, e.Path, err)
		}
	}
	return nil
}

func applySingle(root any, e Entry) error {
	var parent any
	var last Key
	node := root

	for _, k := range e.Path {
		next, ok := Child(node, k)
		if !ok || IsNil(next) {
			return &KeyNotFoundError{Key: k, Path: e.Path}
		}
		parent, last, node = node, k, next
	}

	switch e.Action.kind {
	case MutateKind:
		return runMutation(node, e)
	case ReplaceKind:
		return replaceNode(parent, last, node, e.Action.value)
	case UpdateKind:
		record, ok := node.(map[string]any)
		partial, okPartial := e.Action.value.(map[string]any)
		if !ok || !okPartial {
			return fmt.Errorf("update on %s: %w", KindOf(node), ErrKindMismatch)
		}
		nz := normalizer{}
		for k, v := range partial {
			record[k] = nz.value(v)
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", e.Action.kind)
}

func runMutation(node any, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &MutationPanicError{Path: e.Path, Value: r}
		}
	}()
	e.Action.mutation(node)
	return nil
}

func replaceNode(parent any, key Key, node any, with any) error {
	nz := normalizer{}
	switch n := node.(type) {
	case *[]any:
		items, ok := Items(with)
		if !ok {
			return fmt.Errorf("replace list with %T: %w", with, ErrKindMismatch)
		}
		items = nz.items(items)
		*n = append((*n)[:0], items...)
		return nil
	case []any:
		items, ok := Items(with)
		if !ok {
			return fmt.Errorf("replace list with %T: %w", with, ErrKindMismatch)
		}
		if parent == nil {
			return ErrUnaddressableList
		}
		if !setChild(parent, key, nz.items(items)) {
			return fmt.Errorf("replace list in %s: %w", KindOf(parent), ErrKindMismatch)
		}
		return nil
	case map[string]any:
		src, ok := with.(map[string]any)
		if !ok {
			return fmt.Errorf("replace record with %T: %w", with, ErrKindMismatch)
		}
		src = maps.Clone(src)
		clear(n)
		for k, v := range src {
			n[k] = nz.value(v)
		}
		return nil
	case map[any]any:
		src, ok := asAnyMap(with)
		if !ok {
			return fmt.Errorf("replace map with %T: %w", with, ErrKindMismatch)
		}
		clear(n)
		for k, v := range src {
			n[k] = nz.value(v)
		}
		return nil
	case mapset.Set[any]:
		var elems []any
		switch w := with.(type) {
		case mapset.Set[any]:
			elems = w.ToSlice()
		default:
			items, ok := Items(with)
			if !ok {
				return fmt.Errorf("replace set with %T: %w", with, ErrKindMismatch)
			}
			elems = items
		}
		for _, elem := range elems {
			if !hashable(elem) {
				return fmt.Errorf("set element %T: %w", elem, ErrKindMismatch)
			}
		}
		n.Clear()
		n.Append(elems...)
		return nil
	}
	return fmt.Errorf("replace %s: %w", KindOf(node), ErrKindMismatch)
}

func (nz normalizer) items(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = nz.value(item)
	}
	return out
}

func asAnyMap(v any) (map[any]any, bool) {
	switch m := v.(type) {
	case map[any]any:
		return maps.Clone(m), m != nil
	case map[string]any:
		if m == nil {
			return nil, false
		}
		out := make(map[any]any, len(m))
		for k, item := range m {
			out[k] = item
		}
		return out, true
	}
	return nil, false
}
