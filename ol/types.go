package ol

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/kevinxiao27/mutstate/util"
)

type KeyType int

const (
	NameKey  KeyType = iota // record field
	IndexKey                // list element
	TokenKey                // map key or set element
)

// Key is one step of a Path.
type Key struct {
	typ   KeyType
	name  string
	index int
	token any
}

func Name(name string) Key { return Key{typ: NameKey, name: name} }

func Index(i int) Key { return Key{typ: IndexKey, index: i} }

// Token keys address map entries and set elements. The value must be comparable.
func Token(v any) Key { return Key{typ: TokenKey, token: v} }

func (k Key) Type() KeyType { return k.typ }

// Raw returns the underlying key value: a string, an int or the token.
func (k Key) Raw() any {
	switch k.typ {
	case NameKey:
		return k.name
	case IndexKey:
		return k.index
	default:
		return k.token
	}
}

func (k Key) Equal(o Key) bool {
	if k.typ != o.typ {
		return false
	}
	switch k.typ {
	case NameKey:
		return k.name == o.name
	case IndexKey:
		return k.index == o.index
	default:
		return sameToken(k.token, o.token)
	}
}

func (k Key) String() string {
	switch k.typ {
	case NameKey:
		return "." + k.name
	case IndexKey:
		return "[" + strconv.Itoa(k.index) + "]"
	default:
		return fmt.Sprintf("{%v}", k.token)
	}
}

func sameToken(a, b any) bool {
	if !hashable(a) || !hashable(b) {
		return false
	}
	return a == b
}

func hashable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

// Path locates a node by walking keys from the root. A recorded path is never
// mutated; Append always returns a fresh slice.
type Path []Key

func (p Path) Append(k Key) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, k)
}

func (p Path) Clone() Path {
	next := make(Path, len(p))
	copy(next, p)
	return next
}

func (p Path) Depth() int { return len(p) }

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if !p[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	return util.Reduce(p, func(k Key, s string) string { return s + k.String() }, "$")
}

// PathOf builds a path from plain values: strings become names, ints become
// indices, anything else a token.
func PathOf(keys ...any) Path {
	p := make(Path, 0, len(keys))
	for _, k := range keys {
		switch v := k.(type) {
		case Key:
			p = append(p, v)
		case string:
			p = append(p, Name(v))
		case int:
			p = append(p, Index(v))
		default:
			p = append(p, Token(v))
		}
	}
	return p
}

type ActionKind string

const (
	MutateKind  ActionKind = "mutate"
	ReplaceKind ActionKind = "replace"
	UpdateKind  ActionKind = "update"
)

// Mutation edits the real node in place when the log is replayed.
type Mutation func(node any)

type Action struct {
	kind     ActionKind
	mutation Mutation
	value    any // replacement or partial, unused for mutate
}

func MutateAction(fn Mutation) Action { return Action{kind: MutateKind, mutation: fn} }

func ReplaceAction(v any) Action { return Action{kind: ReplaceKind, value: v} }

func UpdateAction(partial map[string]any) Action { return Action{kind: UpdateKind, value: partial} }

func (a Action) Kind() ActionKind   { return a.kind }
func (a Action) Mutation() Mutation { return a.mutation }
func (a Action) Value() any         { return a.value }

type Entry struct {
	Path   Path
	Action Action
}

func (e Entry) String() string {
	if e.Action.kind == MutateKind {
		return fmt.Sprintf("%s %s", e.Action.kind, e.Path)
	}
	return fmt.Sprintf("%s %s %v", e.Action.kind, e.Path, e.Action.value)
}
