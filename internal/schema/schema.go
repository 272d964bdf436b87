// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema stands in for the external YANG schema compiler named as
// out of scope in spec §1: it defines the minimal Object interface the
// datastore and transaction engine need from a compiled schema tree, plus a
// small in-memory builder used by tests and by the bundled example module
// set. A real deployment would populate a ModelSet from compiled YANG; this
// package only has to satisfy the interface the rest of netconfd consumes.
package schema

// Kind enumerates the value-node kinds spec §3 names.
type Kind int

const (
	Container Kind = iota
	List
	Leaf
	LeafList
	Choice
	Empty
	Anyxml
)

func (k Kind) String() string {
	switch k {
	case Container:
		return "container"
	case List:
		return "list"
	case Leaf:
		return "leaf"
	case LeafList:
		return "leaf-list"
	case Choice:
		return "choice"
	case Empty:
		return "empty"
	case Anyxml:
		return "anyxml"
	default:
		return "unknown"
	}
}

// Object is a compiled schema template for one tree position.
type Object struct {
	Name       string
	Namespace  string
	Kind       Kind
	Keys       []string   // list key leaf names, only meaningful for Kind==List
	Unique     [][]string // list-unique leaf-name tuples, only meaningful for Kind==List
	Mandatory  bool
	Presence   bool // true if this container is a presence container
	Default    string
	MinElems   int
	MaxElems   int // 0 means unbounded
	Type       string // leaf/leaf-list value type name; "leafref" triggers LeafrefPath resolution
	LeafrefPath string // XPath (internal/xpath's supported subset) to the referenced leaf, when Type == "leafref"
	When       string   // XPath existence condition gating this node's validity, if non-empty
	Must       []string // additional XPath existence conditions this node must satisfy
	children   map[string]*Object
	childOrder []string
}

// NewObject creates a schema object template.
func NewObject(name, namespace string, kind Kind) *Object {
	return &Object{
		Name:      name,
		Namespace: namespace,
		Kind:      kind,
		children:  make(map[string]*Object),
	}
}

// AddChild registers child under o, preserving schema declaration order.
func (o *Object) AddChild(child *Object) *Object {
	if _, exists := o.children[child.Name]; !exists {
		o.childOrder = append(o.childOrder, child.Name)
	}
	o.children[child.Name] = child
	return o
}

// Child looks up a named child template.
func (o *Object) Child(name string) (*Object, bool) {
	c, ok := o.children[name]
	return c, ok
}

// Children returns child templates in declaration order.
func (o *Object) Children() []*Object {
	out := make([]*Object, 0, len(o.childOrder))
	for _, n := range o.childOrder {
		out = append(out, o.children[n])
	}
	return out
}

// ModelSet is the root of a compiled schema tree — the set of top-level
// object templates a datastore validates against.
type ModelSet struct {
	root *Object
}

func NewModelSet() *ModelSet {
	return &ModelSet{root: NewObject("", "", Container)}
}

func (ms *ModelSet) Root() *Object { return ms.root }

// Register adds a top-level schema object (a YANG module's top-level
// container/list, in the teacher's terms).
func (ms *ModelSet) Register(obj *Object) {
	ms.root.AddChild(obj)
}
