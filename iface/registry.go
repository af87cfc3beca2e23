package iface

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownInterface = errors.New("unknown interface")

// Registry maps interface names to their definitions and keeps
// the refinement graph. Parents must be registered before
// their children, which keeps the graph acyclic by construction.
// After start-up a Registry is effectively read-only, but
// lookups are safe to run concurrently with late registration.
type Registry struct {
	mut    sync.RWMutex
	byName map[string]*Interface
	order  map[string]int

	// ancestors[name] is the transitive closure of Parents.
	ancestors map[string]map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Interface),
		order:     make(map[string]int),
		ancestors: make(map[string]map[string]bool),
	}
}

// Register adds i. Re-registering the same *Interface is a no-op;
// registering a different definition under a taken name is an error.
func (r *Registry) Register(i *Interface) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if prior, ok := r.byName[i.Name]; ok {
		if prior == i {
			return nil
		}
		return fmt.Errorf("interface '%v' already registered", i.Name)
	}
	anc := make(map[string]bool)
	for _, p := range i.Parents {
		if r.byName[p.Name] != p {
			return fmt.Errorf("parent '%v' of '%v' must be registered first: %w",
				p.Name, i.Name, ErrUnknownInterface)
		}
		anc[p.Name] = true
		for a := range r.ancestors[p.Name] {
			anc[a] = true
		}
	}
	r.order[i.Name] = len(r.byName)
	r.byName[i.Name] = i
	r.ancestors[i.Name] = anc
	return nil
}

// MustRegister panics on error; for static catalogs.
func (r *Registry) MustRegister(is ...*Interface) {
	for _, i := range is {
		if err := r.Register(i); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the interface registered under name, or nil.
func (r *Registry) Lookup(name string) *Interface {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.byName[name]
}

// Names returns all registered names in registration order.
func (r *Registry) Names() (names []string) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(a, b int) bool {
		return r.order[names[a]] < r.order[names[b]]
	})
	return
}

// Refines reports whether a is a strict refinement of b,
// i.e. b is a (transitive) parent of a.
func (r *Registry) Refines(a, b *Interface) bool {
	if a == nil || b == nil || a.Name == b.Name {
		return false
	}
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.ancestors[a.Name][b.Name]
}

// Satisfies reports whether an implementation of a also
// implements want: either the same interface or a refinement.
func (r *Registry) Satisfies(a, want *Interface) bool {
	if a == nil || want == nil {
		return false
	}
	return a.Name == want.Name || r.Refines(a, want)
}

// Reduce removes from set every interface that some other member
// refines, plus duplicates. The survivors keep their relative order.
func (r *Registry) Reduce(set []*Interface) (reduced []*Interface) {
	seen := make(map[string]bool)
	for i, a := range set {
		if a == nil || seen[a.Name] {
			continue
		}
		redundant := false
		for j, b := range set {
			if i != j && b != nil && r.Refines(b, a) {
				redundant = true
				break
			}
		}
		if !redundant {
			seen[a.Name] = true
			reduced = append(reduced, a)
		}
	}
	return
}

// Ancestors returns the transitive parents of i, in
// registration order.
func (r *Registry) Ancestors(i *Interface) (anc []*Interface) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	for n := range r.ancestors[i.Name] {
		anc = append(anc, r.byName[n])
	}
	sort.Slice(anc, func(a, b int) bool {
		return r.order[anc[a].Name] < r.order[anc[b].Name]
	})
	return
}

// OwnedOp pairs an operation with the interface declaring it.
type OwnedOp struct {
	Iface *Interface
	Op    *Operation
}

// Operations returns every operation reachable from i: inherited
// ones first (ancestors in registration order) then i's own.
// A re-declaration lower in the graph replaces the inherited one.
func (r *Registry) Operations(i *Interface) (ops []OwnedOp) {
	pos := make(map[string]int)
	add := func(owner *Interface) {
		for _, op := range owner.Ops {
			if k, ok := pos[op.Name]; ok {
				ops[k] = OwnedOp{Iface: owner, Op: op}
				continue
			}
			pos[op.Name] = len(ops)
			ops = append(ops, OwnedOp{Iface: owner, Op: op})
		}
	}
	for _, a := range r.Ancestors(i) {
		add(a)
	}
	add(i)
	return
}

// Resolve maps names to registered interfaces, skipping the
// unknown ones. Remote peers may advertise interfaces this
// process was built without.
func (r *Registry) Resolve(names []string) (is []*Interface, unknown []string) {
	for _, n := range names {
		if i := r.Lookup(n); i != nil {
			is = append(is, i)
		} else {
			unknown = append(unknown, n)
		}
	}
	return
}
