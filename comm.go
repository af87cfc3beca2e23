package obsrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/glycerine/idem"
	"github.com/glycerine/obsrpc/iface"
	"golang.org/x/sync/singleflight"
)

// Transport carries calls and events between modules. The
// xmpp and local packages provide implementations.
type Transport interface {
	// Open connects and starts delivering incoming traffic to sink.
	Open(ctx context.Context, sink Sink) error
	Close() error

	// Clients lists the names of the currently connected peers.
	Clients() []string

	// GetInterfaces returns the interface names peer advertises.
	// An unknown peer yields an error wrapping ErrNotFound.
	GetInterfaces(ctx context.Context, peer string) ([]string, error)

	// Execute sends a call with wire-form args and returns
	// without waiting for the reply.
	Execute(ctx context.Context, peer, method string, op *iface.Operation, args []any) *Future

	SendEvent(ctx context.Context, ev *Event) error

	// RegisterEvent advertises that this module deals in typ,
	// and subscribes to incoming events of typ when subscribe is set.
	RegisterEvent(ctx context.Context, typ *EventType, subscribe bool) error
}

// Sink receives incoming traffic from a Transport.
type Sink interface {
	Name() string
	Module() *Module
	Events() *EventRegistry
	DeliverEvent(ev *Event)
	PeerConnected(peer string)
	PeerDisconnected(peer string)

	// Logger is where a transport should log; warnings written
	// to it are also forwarded to the network.
	Logger() *slog.Logger
}

// EventHandler receives an event. A returned error is logged.
type EventHandler func(ctx context.Context, ev *Event) error

type handlerEntry struct {
	key string
	h   EventHandler
}

// Comm is the transport-independent core every module talks
// through: it hands out proxies, dispatches calls, fans out
// events, forwards logs and owns the shared variable cache.
type Comm struct {
	cfg    *Config
	tr     Transport
	reg    *iface.Registry
	events *EventRegistry

	// ilog writes locally only; Log also forwards to the network.
	ilog *slog.Logger
	Log  *slog.Logger

	mut     sync.Mutex
	module  *Module
	proxies map[string]*Proxy

	// gen[peer] increases on every disconnect of peer, so a
	// resolution racing with a disconnect does not cache a
	// stale proxy.
	gen    map[string]uint64
	flight singleflight.Group

	handlers   map[string][]handlerEntry
	advertised map[string]bool // event type -> subscribed

	logq chan LogEntry
	vars *SharedVariableCache
	sup  *Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	halt   *idem.Halter
	isOpen bool
}

// NewComm makes a Comm over tr. reg nil selects iface.Default.
func NewComm(cfg *Config, tr Transport, reg *iface.Registry) *Comm {
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg = cfg.Clone()
	if reg == nil {
		reg = iface.Default
	}
	ilog := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("module", cfg.Name)
	c := &Comm{
		cfg:        cfg,
		tr:         tr,
		reg:        reg,
		events:     Events,
		ilog:       ilog,
		proxies:    make(map[string]*Proxy),
		gen:        make(map[string]uint64),
		handlers:   make(map[string][]handlerEntry),
		advertised: make(map[string]bool),
		logq:       make(chan LogEntry, cfg.LogQueueSize),
		halt:       idem.NewHalterNamed("comm_" + cfg.Name),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.Log = slog.New(&multiHandler{handlers: []slog.Handler{
		ilog.Handler(),
		NewForwardHandler(c, cfg.ForwardLevel()),
	}})
	c.vars = NewSharedVariableCache(c, cfg.VarSyncInterval, c.Log)

	// a closed peer must not be served from the proxy cache.
	c.RegisterEvent(context.Background(), ModuleClosedEvent, "comm.evict", c.onModuleClosed)
	return c
}

func (c *Comm) Name() string { return c.cfg.Name }

func (c *Comm) Config() *Config { return c.cfg }

func (c *Comm) Registry() *iface.Registry { return c.reg }

func (c *Comm) Events() *EventRegistry { return c.events }

func (c *Comm) Variables() *SharedVariableCache { return c.vars }

func (c *Comm) Transport() Transport { return c.tr }

func (c *Comm) Logger() *slog.Logger { return c.Log }

// SetModule installs the local module served to remote callers.
// The module logs through our forwarding logger from then on.
func (c *Comm) SetModule(m *Module) {
	if m != nil {
		m.SetLogger(c.Log)
	}
	c.mut.Lock()
	c.module = m
	c.mut.Unlock()
}

func (c *Comm) Module() *Module {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.module
}

// Open connects the transport, advertises the events registered
// so far and starts the background tasks.
func (c *Comm) Open(ctx context.Context) error {
	c.mut.Lock()
	if c.isOpen {
		c.mut.Unlock()
		return nil
	}
	c.isOpen = true
	adv := make(map[string]bool, len(c.advertised))
	for k, v := range c.advertised {
		adv[k] = v
	}
	c.mut.Unlock()

	if err := c.tr.Open(ctx, c); err != nil {
		c.mut.Lock()
		c.isOpen = false
		c.mut.Unlock()
		return fmt.Errorf("comm '%v' open: %w", c.Name(), err)
	}
	names := make([]string, 0, len(adv))
	for n := range adv {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := c.tr.RegisterEvent(ctx, c.events.Lookup(n), adv[n]); err != nil {
			return c.abortOpen(fmt.Errorf("comm '%v' registering %v: %w", c.Name(), n, err))
		}
	}
	if err := c.vars.Subscribe(ctx); err != nil {
		return c.abortOpen(fmt.Errorf("comm '%v' shared variables: %w", c.Name(), err))
	}

	c.sup = NewSupervisor(c.ctx, c.Name(), c.cfg.RestartDelay, c.Log)
	c.sup.Go(Task{Name: "logforward", Run: c.runLogForward, Restart: true})
	c.sup.Go(Task{Name: "varsync", Run: c.vars.Run, Restart: true})
	go func() {
		select {
		case <-c.sup.Escalated():
		case <-c.halt.ReqStop.Chan:
		}
		if err := c.sup.Wait(); err != nil {
			c.ilog.Error("background task escalated, closing comm", "error", err)
			c.Close()
		}
	}()
	return nil
}

// abortOpen undoes a half-finished Open, so it may be retried.
func (c *Comm) abortOpen(err error) error {
	c.mut.Lock()
	c.isOpen = false
	c.mut.Unlock()
	if cerr := c.tr.Close(); cerr != nil {
		c.ilog.Debug("closing transport after failed open", "error", cerr)
	}
	return err
}

// Close stops background work and the transport.
func (c *Comm) Close() error {
	if c.halt.ReqStop.IsClosed() {
		<-c.halt.Done.Chan
		return nil
	}
	c.halt.ReqStop.Close()
	c.cancel()
	if c.sup != nil {
		c.sup.Stop()
	}
	c.vars.Close()
	var err error
	c.mut.Lock()
	wasOpen := c.isOpen
	c.mut.Unlock()
	if wasOpen {
		err = c.tr.Close()
	}
	c.halt.Done.Close()
	return err
}

// Clients lists the connected peers.
func (c *Comm) Clients() []string {
	return c.tr.Clients()
}

// GetProxy returns a Caller for the named peer. "main" is the
// local module and "" gives nil. A peer the transport does not
// know gives (nil, nil), and nothing is cached for it.
func (c *Comm) GetProxy(ctx context.Context, name string) (Caller, error) {
	switch name {
	case "main":
		if m := c.Module(); m != nil {
			return m, nil
		}
		return nil, nil
	case "":
		return nil, nil
	}
	if c.cfg.CacheProxies {
		c.mut.Lock()
		p, ok := c.proxies[name]
		c.mut.Unlock()
		if ok {
			proxyResolutions.WithLabelValues("cached").Inc()
			return p, nil
		}
	}
	// the lookup is shared by every concurrent caller for name,
	// so it runs on its own deadline rather than the first
	// caller's ctx.
	ch := c.flight.DoChan(name, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
		defer cancel()
		return c.resolve(rctx, name)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.halt.ReqStop.Chan:
		return nil, ErrShutdown
	}
	if res.Err != nil {
		proxyResolutions.WithLabelValues("error").Inc()
		return nil, res.Err
	}
	p := res.Val.(*Proxy)
	if p == nil {
		proxyResolutions.WithLabelValues("not_found").Inc()
		return nil, nil
	}
	proxyResolutions.WithLabelValues("resolved").Inc()
	return p, nil
}

func (c *Comm) resolve(ctx context.Context, name string) (*Proxy, error) {
	c.mut.Lock()
	gen := c.gen[name]
	c.mut.Unlock()

	names, err := c.tr.GetInterfaces(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("interfaces of '%v': %w", name, err)
	}
	ifs, unknown := c.reg.Resolve(names)
	if len(unknown) > 0 {
		c.Log.Debug("peer advertises interfaces we do not know", "peer", name, "unknown", unknown)
	}
	p, err := NewProxy(c, name, c.reg, ifs, c.cfg.AllowOpOverride)
	if err != nil {
		return nil, err
	}
	if c.cfg.CacheProxies {
		c.mut.Lock()
		if c.gen[name] == gen {
			c.proxies[name] = p
		}
		c.mut.Unlock()
	}
	return p, nil
}

// Proxy accepts either a live Caller or a peer name and returns
// a Caller implementing want. want nil skips the type check.
func (c *Comm) Proxy(ctx context.Context, nameOrObj any, want *iface.Interface) (Caller, error) {
	var cl Caller
	switch x := nameOrObj.(type) {
	case nil:
		return nil, fmt.Errorf("no module given: %w", ErrValidation)
	case string:
		p, err := c.GetProxy(ctx, x)
		if err != nil {
			return nil, fmt.Errorf("could not get proxy for '%v': %w: %w", x, ErrValidation, err)
		}
		if p == nil {
			return nil, fmt.Errorf("could not find module '%v': %w", x, ErrValidation)
		}
		cl = p
	case Caller:
		if IsNil(x) {
			return nil, fmt.Errorf("no module given: %w", ErrValidation)
		}
		cl = x
	default:
		return nil, fmt.Errorf("cannot make a proxy of %T: %w", nameOrObj, ErrValidation)
	}
	if want != nil && !cl.Implements(want) {
		return nil, fmt.Errorf("module '%v' does not implement %v: %w", cl.Name(), want, ErrValidation)
	}
	return cl, nil
}

// SafeProxy is Proxy that returns nil instead of an error.
func (c *Comm) SafeProxy(ctx context.Context, nameOrObj any, want *iface.Interface) Caller {
	cl, err := c.Proxy(ctx, nameOrObj, want)
	if err != nil {
		c.Log.Debug("safe proxy failed", "error", err)
		return nil
	}
	return cl
}

// ClientsWithInterface lists connected peers that implement want.
func (c *Comm) ClientsWithInterface(ctx context.Context, want *iface.Interface) (names []string) {
	for _, peer := range c.Clients() {
		p, err := c.GetProxy(ctx, peer)
		if err != nil || p == nil {
			continue
		}
		if p.Implements(want) {
			names = append(names, peer)
		}
	}
	sort.Strings(names)
	return
}

// Execute dispatches a call with wire-form args. It satisfies
// Executor for the proxies this Comm creates.
func (c *Comm) Execute(ctx context.Context, peer, method string, op *iface.Operation, args ...any) *Future {
	if c.halt.ReqStop.IsClosed() {
		return NewFailedFuture(peer, method, ErrShutdown)
	}
	callsIssued.WithLabelValues(method).Inc()
	f := c.tr.Execute(ctx, peer, method, op, args)
	if f.Operation() == nil {
		f.SetOperation(op)
	}
	return f
}

// RegisterEvent subscribes h to typ and to every type derived
// from it. A non-empty key makes the registration idempotent:
// a second handler under the same key for the same type is
// ignored. h may be nil to only advertise typ. Local event
// types are never advertised to the transport.
func (c *Comm) RegisterEvent(ctx context.Context, typ *EventType, key string, h EventHandler) error {
	if typ == nil {
		return fmt.Errorf("nil event type: %w", ErrValidation)
	}
	var toTransport []*EventType
	c.mut.Lock()
	for _, t := range c.events.Derived(typ) {
		if h != nil && !c.hasHandler(t.Name, key) {
			c.handlers[t.Name] = append(c.handlers[t.Name], handlerEntry{key: key, h: h})
		}
		if t.Local {
			continue
		}
		sub := c.advertised[t.Name] || h != nil
		prior, had := c.advertised[t.Name]
		c.advertised[t.Name] = sub
		if !had || prior != sub {
			toTransport = append(toTransport, t)
		}
	}
	open := c.isOpen
	c.mut.Unlock()

	if !open {
		// Open advertises everything registered beforehand.
		return nil
	}
	for _, t := range toTransport {
		if err := c.tr.RegisterEvent(ctx, t, h != nil); err != nil {
			return fmt.Errorf("registering %v: %w", t.Name, err)
		}
	}
	return nil
}

// caller holds c.mut.
func (c *Comm) hasHandler(typ, key string) bool {
	if key == "" {
		return false
	}
	for _, e := range c.handlers[typ] {
		if e.key == key {
			return true
		}
	}
	return false
}

// SendEvent stamps ev with our name and sends it. Local events
// go straight to our own handlers.
func (c *Comm) SendEvent(ctx context.Context, ev *Event) error {
	typ := c.events.Lookup(ev.Type)
	if typ == nil {
		return fmt.Errorf("unknown event type '%v': %w", ev.Type, ErrValidation)
	}
	if ev.UUID == "" {
		fresh := NewEvent(ev.Type, ev.Data)
		ev.UUID, ev.Timestamp = fresh.UUID, fresh.Timestamp
	}
	ev.Sender = c.Name()
	eventsSent.WithLabelValues(ev.Type).Inc()
	if typ.Local {
		c.DeliverEvent(ev)
		return nil
	}
	if c.halt.ReqStop.IsClosed() {
		return ErrShutdown
	}
	return c.tr.SendEvent(ctx, ev)
}

// DeliverEvent runs the handlers registered for ev's type, in
// registration order, on the calling goroutine. Transports
// call it after their own filtering.
func (c *Comm) DeliverEvent(ev *Event) {
	c.mut.Lock()
	hs := append([]handlerEntry(nil), c.handlers[ev.Type]...)
	c.mut.Unlock()
	if len(hs) == 0 {
		return
	}
	eventsDelivered.WithLabelValues(ev.Type).Inc()
	for _, e := range hs {
		if err := e.h(c.ctx, ev); err != nil {
			c.Log.Warn("event handler failed", "event", ev.Type, "from", ev.Sender, "error", err)
		}
	}
}

// PeerConnected is called by the transport when peer appears.
func (c *Comm) PeerConnected(peer string) {
	c.DeliverEvent(NewModuleOpened(peer))
}

// PeerDisconnected is called by the transport when peer leaves.
func (c *Comm) PeerDisconnected(peer string) {
	c.DeliverEvent(NewModuleClosed(peer))
}

func (c *Comm) onModuleClosed(ctx context.Context, ev *Event) error {
	peer, _ := ev.Get("module").(string)
	if peer == "" {
		peer = ev.Sender
	}
	c.mut.Lock()
	delete(c.proxies, peer)
	c.gen[peer]++
	c.mut.Unlock()
	vv("%v evicted proxy for '%v'", c.Name(), peer)
	return nil
}
