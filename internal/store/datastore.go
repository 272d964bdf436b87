// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package store

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danos/netconfd/internal/schema"
	"github.com/danos/netconfd/internal/xpath"
)

// Name identifies one of the three datastores spec §3 names.
type Name string

const (
	Running   Name = "running"
	Candidate Name = "candidate"
	Startup   Name = "startup"
)

// State is a datastore's own small lifecycle, spec §4.5.
type State int

const (
	Init State = iota
	Ready
	Cleanup
)

// LoadError is one error record accumulated while loading a datastore from
// disk (spec §3 "Datastore").
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Message) }

// WithDefaultsMode selects how <get>/<get-config> reports default values
// (spec §4.5).
type WithDefaultsMode int

const (
	ReportAll WithDefaultsMode = iota
	Trim
	Explicit
	ReportAllTagged
)

// Datastore owns one configuration tree and its on-disk lifecycle.
type Datastore struct {
	mu         sync.RWMutex
	name       Name
	state      State
	root       *Node
	ms         *schema.ModelSet
	loadErrors []*LoadError
	path       string // backing file, "" if this datastore is not persisted

	// lockedBy is the session ID holding a full <lock>, 0 if unlocked.
	lockedBy uint32
}

// New creates a not-yet-ready datastore for name backed by ms, loading from
// path if non-empty.
func New(name Name, ms *schema.ModelSet, path string) *Datastore {
	return &Datastore{
		name: name,
		ms:   ms,
		root: New_(ms),
		path: path,
	}
}

func New_(ms *schema.ModelSet) *Node {
	root := &Node{Schema: ms.Root()}
	return root
}

func (d *Datastore) Name() Name { return d.name }

func (d *Datastore) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Root returns the datastore's root node. Callers must not retain it past
// the commit that replaces it (spec: "moved into the datastore on commit").
func (d *Datastore) Root() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// SetRoot atomically replaces the datastore's tree, as the final step of a
// commit (spec §4.4 "Commit").
func (d *Datastore) SetRoot(root *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = root
}

// Lock grants a full <lock> on the datastore to session, refusing if
// another session already holds it (spec §4.5 "Full ... locks are
// tracked").
func (d *Datastore) Lock(session uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != 0 && d.lockedBy != session {
		return false
	}
	d.lockedBy = session
	return true
}

// Unlock releases session's full lock, refusing if session does not
// hold it. Releasing an unlocked datastore is a no-op success.
func (d *Datastore) Unlock(session uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy == 0 {
		return true
	}
	if d.lockedBy != session {
		return false
	}
	d.lockedBy = 0
	return true
}

// LockedBy reports the session currently holding a full lock, 0 if none.
func (d *Datastore) LockedBy() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lockedBy
}

// LoadErrors returns the accumulated load-time error queue.
func (d *Datastore) LoadErrors() []*LoadError {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadErrors
}

// Load reads the datastore's backing file, if any, parsing it into the
// root tree. Parse errors are recorded in LoadErrors rather than returned;
// Load applies no prune-vs-fatal policy to them.
func (d *Datastore) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path == "" {
		d.state = Ready
		return nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			d.state = Ready
			return nil
		}
		return err
	}
	root, errs := parseXML(data, d.ms)
	d.loadErrors = errs
	d.root = root
	d.state = Ready
	return nil
}

// Save atomically persists the datastore: write to a temp file in the same
// directory, then rename (spec §4.5 "Save"), matching the teacher's
// writeRunning (0600 perms — running config may hold secrets).
func (d *Datastore) Save() error {
	d.mu.RLock()
	root := d.root
	path := d.path
	d.mu.RUnlock()
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".netconfd-datastore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}

	var buf bytes.Buffer
	writeXML(&buf, root)
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// RootCheck runs every CheckTree invariant, when/must included, against
// the datastore's stored root (spec §4.4 "Root-check").
func (d *Datastore) RootCheck() []error {
	d.mu.RLock()
	root := d.root
	d.mu.RUnlock()
	return CheckTree(root)
}

// CheckTree runs the whole-tree invariants spec §4.4 "Validate" names:
// mandatory-child presence, list key uniqueness, list "unique" leaf-tuple
// constraints, min/max-elements cardinality, leafref/instance-identifier
// referential integrity, and when/must existence conditions. It runs
// against an arbitrary candidate subtree rather than a datastore's
// currently-committed root, since the transaction engine's root-check
// phase must validate the edit about to be committed, not the
// datastore's pre-commit state, so it calls this directly instead of
// going through a *Datastore.
//
// when/must are evaluated as plain existence checks against
// internal/xpath's supported subset (absolute/relative paths and
// `[name='value']` predicates) rather than full boolean XPath 1.0 — the
// same scope limit internal/xpath's own doc comment already states.
func CheckTree(root *Node) []error {
	var errs []error
	checkMandatory(root, &errs)
	checkListKeyUniqueness(root, &errs)
	checkUnique(root, &errs)
	checkCardinality(root, &errs)
	checkLeafrefs(root, root, &errs)
	checkMustWhen(root, root, &errs)
	return errs
}

// checkMandatory walks every *instantiated* container/list entry and
// confirms each of its schema-mandatory children is present — consulting
// the schema's child set, not just the node's actual children, so a
// mandatory child that is missing entirely (not merely empty) is caught.
// A mandatory leaf nested under a container that itself was never
// instantiated is not flagged, matching YANG's "mandatory applies once
// the parent exists" semantics.
func checkMandatory(n *Node, errs *[]error) {
	if n.Schema != nil {
		for _, childTmpl := range n.Schema.Children() {
			if !childTmpl.Mandatory {
				continue
			}
			if _, ok := n.Child(childTmpl.Name); !ok {
				*errs = append(*errs, fmt.Errorf("mandatory node %q is absent", childTmpl.Name))
			}
		}
	}
	for _, c := range n.Children() {
		checkMandatory(c, errs)
	}
}

func checkListKeyUniqueness(n *Node, errs *[]error) {
	seen := map[string]bool{}
	for _, c := range n.Children() {
		if c.Schema != nil && c.Schema.Kind == schema.List {
			key := keyTuple(c)
			if seen[key] {
				*errs = append(*errs, fmt.Errorf("duplicate key %s for list %q", key, c.Name()))
			}
			seen[key] = true
		}
		checkListKeyUniqueness(c, errs)
	}
}

// checkUnique enforces each list template's Unique leaf-name tuples
// (YANG's "unique" statement) across that list's sibling entries —
// distinct from checkListKeyUniqueness, which only covers the key leaves
// themselves.
func checkUnique(n *Node, errs *[]error) {
	groups := map[string][]*Node{}
	for _, c := range n.Children() {
		if c.Schema != nil && c.Schema.Kind == schema.List {
			groups[c.Name()] = append(groups[c.Name()], c)
		}
	}
	for name, entries := range groups {
		if len(entries) < 2 {
			continue
		}
		for _, tuple := range entries[0].Schema.Unique {
			seen := map[string]bool{}
			for _, e := range entries {
				var b bytes.Buffer
				for _, leaf := range tuple {
					if lc, ok := e.Child(leaf); ok {
						b.WriteString(lc.Value)
					}
					b.WriteByte(0)
				}
				key := b.String()
				if seen[key] {
					*errs = append(*errs, fmt.Errorf("list %q violates unique constraint on %v", name, tuple))
					continue
				}
				seen[key] = true
			}
		}
	}
	for _, c := range n.Children() {
		checkUnique(c, errs)
	}
}

// checkCardinality enforces each list template's min-elements/max-elements
// bounds against the number of entries actually present under one parent.
func checkCardinality(n *Node, errs *[]error) {
	if n.Schema != nil {
		counts := map[string]int{}
		for _, c := range n.Children() {
			if c.Schema != nil && c.Schema.Kind == schema.List {
				counts[c.Name()]++
			}
		}
		for name, count := range counts {
			tmpl, ok := n.Schema.Child(name)
			if !ok {
				continue
			}
			if tmpl.MinElems > 0 && count < tmpl.MinElems {
				*errs = append(*errs, fmt.Errorf("list %q has %d entries, fewer than min-elements %d", name, count, tmpl.MinElems))
			}
			if tmpl.MaxElems > 0 && count > tmpl.MaxElems {
				*errs = append(*errs, fmt.Errorf("list %q has %d entries, more than max-elements %d", name, count, tmpl.MaxElems))
			}
		}
	}
	for _, c := range n.Children() {
		checkCardinality(c, errs)
	}
}

// checkLeafrefs resolves every leaf whose schema declares a LeafrefPath
// against root, failing if no instance in the referenced set carries a
// matching value (spec §4.4 "leafref/instance-identifier referential
// checks").
func checkLeafrefs(root, n *Node, errs *[]error) {
	if n.Schema != nil && n.Schema.LeafrefPath != "" && n.Value != "" {
		if prog, err := xpath.Compile(n.Schema.LeafrefPath); err == nil {
			found := false
			for _, m := range xpath.Eval(prog, root, n) {
				if target, ok := m.(*Node); ok && target.Value == n.Value {
					found = true
					break
				}
			}
			if !found {
				*errs = append(*errs, fmt.Errorf("leaf %q: no instance of %q with value %q", n.Name(), n.Schema.LeafrefPath, n.Value))
			}
		}
	}
	for _, c := range n.Children() {
		checkLeafrefs(root, c, errs)
	}
}

// checkMustWhen evaluates each instantiated node's When/Must conditions as
// existence checks over internal/xpath's subset.
func checkMustWhen(root, n *Node, errs *[]error) {
	if n.Schema != nil {
		if n.Schema.When != "" {
			if prog, err := xpath.Compile(n.Schema.When); err == nil {
				if len(xpath.Eval(prog, root, n)) == 0 {
					*errs = append(*errs, fmt.Errorf("node %q fails when condition %q", n.Name(), n.Schema.When))
				}
			}
		}
		for _, expr := range n.Schema.Must {
			if prog, err := xpath.Compile(expr); err == nil {
				if len(xpath.Eval(prog, root, n)) == 0 {
					*errs = append(*errs, fmt.Errorf("node %q fails must condition %q", n.Name(), expr))
				}
			}
		}
	}
	for _, c := range n.Children() {
		checkMustWhen(root, c, errs)
	}
}

func keyTuple(n *Node) string {
	var b bytes.Buffer
	b.WriteString(n.Name())
	if n.Schema != nil {
		for _, k := range n.Schema.Keys {
			if kc, ok := n.child(k); ok {
				b.WriteByte('/')
				b.WriteString(kc.Value)
			}
		}
	}
	return b.String()
}

// DefaultFill recursively instantiates any leaf carrying a schema default
// that is not already present in the tree (spec §3 "Configuration value",
// §4.5 "default-fill").
func DefaultFill(n *Node) {
	if n.Schema == nil {
		return
	}
	for _, childTmpl := range n.Schema.Children() {
		if childTmpl.Kind != schema.Leaf || childTmpl.Default == "" {
			continue
		}
		if _, ok := n.child(childTmpl.Name); ok {
			continue
		}
		leaf := New(childTmpl)
		leaf.Value = childTmpl.Default
		n.AddChild(leaf)
	}
	for _, c := range n.Children() {
		DefaultFill(c)
	}
}

// PruneObsolete recursively removes nodes that carry no schema template.
// It does not consult ms: a node whose template is set but no longer
// registered in ms is kept. Per spec §9's second Open Question,
// empty non-presence containers are never pruned — that historical toggle
// is forced off, not re-exposed as configurable.
func PruneObsolete(n *Node, ms *schema.ModelSet) {
	kept := n.children[:0]
	for _, c := range n.children {
		if c.Schema == nil {
			continue
		}
		PruneObsolete(c, ms)
		kept = append(kept, c)
	}
	n.children = kept
}

func parseXML(data []byte, ms *schema.ModelSet) (*Node, []*LoadError) {
	root := New_(ms)
	dec := xml.NewDecoder(bytes.NewReader(data))
	var errs []*LoadError
	var stack []*Node
	cur := root
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			tmpl, ok := cur.Schema.Child(t.Name.Local)
			if !ok {
				errs = append(errs, &LoadError{Path: t.Name.Local, Message: "not in schema"})
				var depth int
				for {
					tk, terr := dec.Token()
					if terr != nil {
						break
					}
					if _, ok := tk.(xml.StartElement); ok {
						depth++
					}
					if _, ok := tk.(xml.EndElement); ok {
						if depth == 0 {
							break
						}
						depth--
					}
				}
				continue
			}
			child := New(tmpl)
			cur.AddChild(child)
			stack = append(stack, cur)
			cur = child
		case xml.CharData:
			txt := string(t)
			if len(cur.children) == 0 {
				cur.Value += txt
			}
		case xml.EndElement:
			if len(stack) > 0 {
				cur = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
		}
	}
	return root, errs
}

func writeXML(buf *bytes.Buffer, n *Node) {
	for _, c := range n.Children() {
		writeNodeXML(buf, c)
	}
}

func writeNodeXML(buf *bytes.Buffer, n *Node) {
	name := n.Name()
	fmt.Fprintf(buf, "<%s>", name)
	if len(n.Children()) == 0 {
		xml.EscapeText(buf, []byte(n.Value))
	} else {
		for _, c := range n.Children() {
			writeNodeXML(buf, c)
		}
	}
	fmt.Fprintf(buf, "</%s>", name)
}
