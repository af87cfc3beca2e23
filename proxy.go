package obsrpc

import (
	"context"
	"fmt"
	"sort"

	"github.com/glycerine/obsrpc/iface"
)

// Caller is what GetProxy hands out: a Proxy for a remote
// peer, or the local Module itself.
type Caller interface {
	Name() string
	Interfaces() []*iface.Interface
	Implements(want *iface.Interface) bool
	Signature(method string) *iface.Operation
	Execute(ctx context.Context, method string, args ...any) *Future
	ExecuteNamed(ctx context.Context, method string, args []any, named map[string]any) *Future
}

// Executor dispatches an already marshalled call to a peer.
// Comm is the production Executor.
type Executor interface {
	Execute(ctx context.Context, peer, method string, op *iface.Operation, args ...any) *Future
}

// Proxy stands in for a remote peer. Its dispatch table is
// fixed at construction.
type Proxy struct {
	exec   Executor
	name   string
	reg    *iface.Registry
	ifaces []*iface.Interface

	table   map[string]iface.OwnedOp
	methods []string
}

// NewProxy reduces ifaces, dropping any interface refined by
// another member, and builds the dispatch table from the survivors.
//
// Two unrelated interfaces may declare the same method name. When
// the signatures agree the first is kept. When they differ,
// construction fails with ErrConflict unless allowOverride is set,
// in which case the later interface wins.
func NewProxy(exec Executor, name string, reg *iface.Registry, ifaces []*iface.Interface, allowOverride bool) (*Proxy, error) {
	reduced, table, err := dispatchTable(reg, name, ifaces, allowOverride)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		exec:   exec,
		name:   name,
		reg:    reg,
		ifaces: reduced,
		table:  table,
	}
	for m := range p.table {
		p.methods = append(p.methods, m)
	}
	sort.Strings(p.methods)
	return p, nil
}

func dispatchTable(reg *iface.Registry, name string, ifaces []*iface.Interface, allowOverride bool) (
	reduced []*iface.Interface, table map[string]iface.OwnedOp, err error) {

	reduced = reg.Reduce(ifaces)
	table = make(map[string]iface.OwnedOp)
	for _, i := range reduced {
		for _, oo := range reg.Operations(i) {
			prior, dup := table[oo.Op.Name]
			if !dup {
				table[oo.Op.Name] = oo
				continue
			}
			if prior.Op == oo.Op || prior.Op.SameSignature(oo.Op) {
				continue
			}
			if !allowOverride {
				return nil, nil, fmt.Errorf("'%v': method '%v' declared by both %v (%v) and %v (%v): %w",
					name, oo.Op.Name, prior.Iface, prior.Op, oo.Iface, oo.Op, ErrConflict)
			}
			table[oo.Op.Name] = oo
		}
	}
	return
}

func (p *Proxy) Name() string { return p.name }

func (p *Proxy) String() string {
	return fmt.Sprintf("Proxy{%v %v}", p.name, p.ifaces)
}

// Interfaces returns the reduced interface set.
func (p *Proxy) Interfaces() []*iface.Interface {
	return append([]*iface.Interface(nil), p.ifaces...)
}

// Methods lists the callable method names, sorted.
func (p *Proxy) Methods() []string {
	return append([]string(nil), p.methods...)
}

// Implements is true when some interface of p is want or
// refines it.
func (p *Proxy) Implements(want *iface.Interface) bool {
	for _, i := range p.ifaces {
		if p.reg.Satisfies(i, want) {
			return true
		}
	}
	return false
}

// Signature returns the operation behind method, or nil.
func (p *Proxy) Signature(method string) *iface.Operation {
	if oo, ok := p.table[method]; ok {
		return oo.Op
	}
	return nil
}

// InterfaceMethod returns the interface that declares method
// and its operation; ok is false if p has no such method.
func (p *Proxy) InterfaceMethod(method string) (i *iface.Interface, op *iface.Operation, ok bool) {
	oo, ok := p.table[method]
	return oo.Iface, oo.Op, ok
}

// Execute calls method on the remote peer with positional args.
func (p *Proxy) Execute(ctx context.Context, method string, args ...any) *Future {
	return p.ExecuteNamed(ctx, method, args, nil)
}

// ExecuteNamed binds args and named against the method's
// signature, fills defaults, marshals to wire form and
// dispatches. Errors found before dispatch come back as an
// already failed Future.
func (p *Proxy) ExecuteNamed(ctx context.Context, method string, args []any, named map[string]any) *Future {
	oo, ok := p.table[method]
	if !ok {
		return NewFailedFuture(p.name, method,
			fmt.Errorf("%v has no method '%v': %w", p.name, method, ErrNotFound))
	}
	bound, err := oo.Op.Bind(args, named)
	if err != nil {
		return NewFailedFuture(p.name, method, fmt.Errorf("%w: %w", ErrValidation, err))
	}
	f := p.exec.Execute(ctx, p.name, method, oo.Op, MarshalArgs(oo.Op, bound)...)
	f.SetOperation(oo.Op)
	return f
}
