package obsrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/glycerine/obsrpc/iface"
)

// Handler implements one operation. args arrive bound, in
// declaration order, with defaults filled and wire values
// already converted to their real types.
type Handler func(ctx context.Context, args []any) (any, error)

type senderKey struct{}

// WithSender returns ctx carrying the name of the module whose
// call is being served.
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFromContext tells a Handler which module called it.
// It is "" for calls made on the local module directly.
func SenderFromContext(ctx context.Context) string {
	s, _ := ctx.Value(senderKey{}).(string)
	return s
}

// Module is the local side of the network: the method table
// that remote callers reach through their proxies.
type Module struct {
	name    string
	reg     *iface.Registry
	ifaces  []*iface.Interface
	table   map[string]iface.OwnedOp
	Label   string
	Version string

	mut       sync.RWMutex
	log       *slog.Logger
	handlers  map[string]Handler
	state     iface.ModuleState
	errString string
}

// NewModule builds the method table of a module implementing
// ifaces. IModule is always included and its methods are served
// from the module's own state.
func NewModule(name string, reg *iface.Registry, ifaces ...*iface.Interface) (*Module, error) {
	all := append([]*iface.Interface{iface.IModule}, ifaces...)
	reduced, table, err := dispatchTable(reg, name, all, false)
	if err != nil {
		return nil, err
	}
	m := &Module{
		name:     name,
		reg:      reg,
		ifaces:   reduced,
		table:    table,
		Label:    name,
		Version:  ModuleVersion(),
		log:      slog.Default().With("module", name),
		handlers: make(map[string]Handler),
		state:    iface.ModuleStateReady,
	}
	m.handlers["get_label"] = func(context.Context, []any) (any, error) { return m.Label, nil }
	m.handlers["get_version"] = func(context.Context, []any) (any, error) { return m.Version, nil }
	m.handlers["get_state"] = func(context.Context, []any) (any, error) { return m.State(), nil }
	m.handlers["get_error_string"] = func(context.Context, []any) (any, error) {
		m.mut.RLock()
		defer m.mut.RUnlock()
		return m.errString, nil
	}
	m.handlers["reset_error"] = func(context.Context, []any) (any, error) {
		m.SetState(iface.ModuleStateReady, "")
		return true, nil
	}
	return m, nil
}

func (m *Module) Name() string { return m.name }

// Handle installs h as the implementation of method.
func (m *Module) Handle(method string, h Handler) error {
	if _, ok := m.table[method]; !ok {
		return fmt.Errorf("module '%v' implements no method '%v': %w", m.name, method, ErrNotFound)
	}
	m.mut.Lock()
	m.handlers[method] = h
	m.mut.Unlock()
	return nil
}

// MustHandle is Handle for static setup code.
func (m *Module) MustHandle(method string, h Handler) *Module {
	panicOn(m.Handle(method, h))
	return m
}

// Log is for handlers. Once the module is installed in a Comm,
// records at or above the forward level also reach other
// modules as LogEvents.
func (m *Module) Log() *slog.Logger {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return m.log
}

func (m *Module) SetLogger(l *slog.Logger) {
	m.mut.Lock()
	m.log = l
	m.mut.Unlock()
}

func (m *Module) State() iface.ModuleState {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return m.state
}

func (m *Module) SetState(s iface.ModuleState, errString string) {
	m.mut.Lock()
	m.state = s
	m.errString = errString
	m.mut.Unlock()
}

// Interfaces is the reduced set of implemented interfaces.
func (m *Module) Interfaces() []*iface.Interface {
	return append([]*iface.Interface(nil), m.ifaces...)
}

// Advertised lists every implemented interface name, including
// ancestors, for capability discovery.
func (m *Module) Advertised() (names []string) {
	seen := make(map[string]bool)
	for _, i := range m.ifaces {
		for _, a := range append(m.reg.Ancestors(i), i) {
			if !seen[a.Name] {
				seen[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	sort.Strings(names)
	return
}

func (m *Module) Implements(want *iface.Interface) bool {
	for _, i := range m.ifaces {
		if m.reg.Satisfies(i, want) {
			return true
		}
	}
	return false
}

func (m *Module) Signature(method string) *iface.Operation {
	if oo, ok := m.table[method]; ok {
		return oo.Op
	}
	return nil
}

// Prepare binds received wire arguments for method and converts
// them to their real types.
func (m *Module) Prepare(method string, wireArgs []any, named map[string]any) (op *iface.Operation, bound []any, err error) {
	oo, ok := m.table[method]
	if !ok {
		return nil, nil, fmt.Errorf("module '%v' has no method '%v': %w", m.name, method, ErrNotFound)
	}
	op = oo.Op
	bound, err = op.Bind(wireArgs, named)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return op, UnmarshalArgs(op, bound), nil
}

// TimeoutFor evaluates op's timeout policy for bound args.
func (m *Module) TimeoutFor(op *iface.Operation, bound []any) (time.Duration, error) {
	return EvalTimeout(op, bound)
}

// Invoke runs the handler of op and returns its result in
// wire form. A panicking handler is reported as an error.
func (m *Module) Invoke(ctx context.Context, op *iface.Operation, bound []any) (wire any, err error) {
	m.mut.RLock()
	h := m.handlers[op.Name]
	m.mut.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("method '%v' is not implemented by '%v'", op.Name, m.name)
	}
	t0 := time.Now()
	defer func() {
		localCallDuration.WithLabelValues(op.Name).Observe(time.Since(t0).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %v panicked: %v", op.Name, r)
			m.Log().Error("handler panicked", "method", op.Name, "panic", r)
		}
	}()
	res, err := h(ctx, bound)
	if err != nil {
		return nil, err
	}
	return ToWire(res, op.Result), nil
}

// Execute lets the local module be used wherever a proxy is.
// The call runs synchronously; the returned Future is resolved.
func (m *Module) Execute(ctx context.Context, method string, args ...any) *Future {
	return m.ExecuteNamed(ctx, method, args, nil)
}

func (m *Module) ExecuteNamed(ctx context.Context, method string, args []any, named map[string]any) *Future {
	oo, ok := m.table[method]
	if !ok {
		return NewFailedFuture(m.name, method,
			fmt.Errorf("module '%v' has no method '%v': %w", m.name, method, ErrNotFound))
	}
	bound, err := oo.Op.Bind(args, named)
	if err != nil {
		return NewFailedFuture(m.name, method, fmt.Errorf("%w: %w", ErrValidation, err))
	}
	res, err := m.Invoke(ctx, oo.Op, bound)
	if err != nil {
		return NewFailedFuture(m.name, method, NewInvocationError(m.name, method, 500, err.Error()))
	}
	return NewResolvedFuture(m.name, method, oo.Op, res)
}
