package iface

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadArgs is returned by Operation.Bind when the supplied
// arguments do not fit the declared parameter list.
var ErrBadArgs = errors.New("bad arguments")

// Param is one declared parameter of an Operation.
type Param struct {
	Name       string
	Type       *Type
	Default    any
	HasDefault bool
}

// P declares a required parameter.
func P(name string, t *Type) Param {
	return Param{Name: name, Type: t}
}

// PD declares a parameter with a default value.
func PD(name string, t *Type, def any) Param {
	return Param{Name: name, Type: t, Default: def, HasDefault: true}
}

// TimeoutPolicy says how long a caller should be prepared to
// wait for an operation. The callee evaluates it against the
// bound arguments and, when positive, tells the caller before
// it starts working.
//
// Expr is a zygomys expression; every bound parameter is
// defined as a variable of the same name before evaluation,
// so `(+ exposure_time 30)` or `{exposure_time + 30}` both work.
// The result is in seconds.
type TimeoutPolicy struct {
	Fixed time.Duration
	Expr  string
}

func FixedTimeout(d time.Duration) TimeoutPolicy {
	return TimeoutPolicy{Fixed: d}
}

func ExprTimeout(expr string) TimeoutPolicy {
	return TimeoutPolicy{Expr: expr}
}

func (p TimeoutPolicy) IsZero() bool {
	return p.Fixed == 0 && p.Expr == ""
}

// Operation is a remotely callable method.
type Operation struct {
	Name    string
	Params  []Param
	Result  *Type
	Timeout TimeoutPolicy
}

// Op declares an operation.
func Op(name string, result *Type, params ...Param) *Operation {
	if result == nil {
		result = Void
	}
	return &Operation{Name: name, Result: result, Params: params}
}

// WithTimeout attaches a timeout policy and returns o.
func (o *Operation) WithTimeout(p TimeoutPolicy) *Operation {
	o.Timeout = p
	return o
}

// SameSignature is true when the parameter lists and result
// types of o and b match.
func (o *Operation) SameSignature(b *Operation) bool {
	if len(o.Params) != len(b.Params) {
		return false
	}
	for i := range o.Params {
		if o.Params[i].Name != b.Params[i].Name ||
			!o.Params[i].Type.Equal(b.Params[i].Type) {
			return false
		}
	}
	return o.Result.Equal(b.Result)
}

func (o *Operation) String() string {
	s := o.Name + "("
	for i, p := range o.Params {
		if i > 0 {
			s += ", "
		}
		s += p.Name + " " + p.Type.String()
	}
	return s + ") " + o.Result.String()
}

// Bind lays out positional args followed by named args into
// declaration order, filling defaults. The returned slice has
// exactly len(o.Params) entries.
func (o *Operation) Bind(args []any, named map[string]any) (bound []any, err error) {
	if len(args) > len(o.Params) {
		return nil, fmt.Errorf("%v takes %v arguments, %v given: %w",
			o.Name, len(o.Params), len(args), ErrBadArgs)
	}
	bound = make([]any, len(o.Params))
	set := make([]bool, len(o.Params))
	for i, a := range args {
		bound[i] = a
		set[i] = true
	}
	for k, v := range named {
		i := o.paramIndex(k)
		if i < 0 {
			return nil, fmt.Errorf("%v got an unexpected argument '%v': %w", o.Name, k, ErrBadArgs)
		}
		if set[i] {
			return nil, fmt.Errorf("%v got multiple values for argument '%v': %w", o.Name, k, ErrBadArgs)
		}
		bound[i] = v
		set[i] = true
	}
	for i, p := range o.Params {
		if set[i] {
			continue
		}
		if !p.HasDefault {
			return nil, fmt.Errorf("%v missing required argument '%v': %w", o.Name, p.Name, ErrBadArgs)
		}
		bound[i] = p.Default
	}
	return
}

func (o *Operation) paramIndex(name string) int {
	for i, p := range o.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Interface is a named capability: a set of operations,
// plus the interfaces it refines.
type Interface struct {
	Name    string
	Parents []*Interface
	Ops     []*Operation
}

// Define declares an interface. parents may be nil.
func Define(name string, parents []*Interface, ops ...*Operation) *Interface {
	return &Interface{Name: name, Parents: parents, Ops: ops}
}

// Extends is shorthand for building a parents list.
func Extends(parents ...*Interface) []*Interface {
	return parents
}

func (i *Interface) String() string {
	return i.Name
}

// Own returns the operation declared directly on i.
func (i *Interface) Own(name string) *Operation {
	for _, op := range i.Ops {
		if op.Name == name {
			return op
		}
	}
	return nil
}
