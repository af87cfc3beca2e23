package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/greenpack/msgp"
	"github.com/glycerine/idem"
	"github.com/glycerine/obsrpc"
	"github.com/glycerine/obsrpc/iface"
)

// Transport is one module's attachment to a Network.
type Transport struct {
	net  *Network
	name string
	wait time.Duration

	mut    sync.Mutex
	sink   obsrpc.Sink
	subs   map[string]bool
	isOpen bool

	// work delivers events and peer notifications in order,
	// off the sender's goroutine.
	work chan func()
	halt *idem.Halter
}

var _ obsrpc.Transport = (*Transport)(nil)

func NewTransport(net *Network, name string) *Transport {
	return &Transport{
		net:  net,
		name: name,
		wait: obsrpc.DefaultCallTimeout,
		subs: make(map[string]bool),
		work: make(chan func(), 4096),
		halt: idem.NewHalterNamed("local_" + name),
	}
}

// NewComm makes a Comm for cfg.Name on net.
func NewComm(net *Network, cfg *obsrpc.Config, reg *iface.Registry) *obsrpc.Comm {
	t := NewTransport(net, cfg.Name)
	t.wait = cfg.CallTimeout
	return obsrpc.NewComm(cfg, t, reg)
}

func (t *Transport) Open(ctx context.Context, sink obsrpc.Sink) error {
	t.mut.Lock()
	if t.isOpen {
		t.mut.Unlock()
		return nil
	}
	t.sink = sink
	t.mut.Unlock()
	if err := t.net.join(t); err != nil {
		return err
	}
	t.mut.Lock()
	t.isOpen = true
	t.mut.Unlock()
	go t.dispatch()

	for _, o := range t.net.others(t.name) {
		peer := o.name
		t.enqueue(func() { sink.PeerConnected(peer) })
		o.enqueue(func() { o.sink.PeerConnected(t.name) })
	}
	return nil
}

func (t *Transport) Close() error {
	t.mut.Lock()
	wasOpen := t.isOpen
	t.isOpen = false
	t.mut.Unlock()
	if !wasOpen {
		return nil
	}
	if t.net.leave(t) {
		for _, o := range t.net.others(t.name) {
			o.enqueue(func() { o.sink.PeerDisconnected(t.name) })
		}
	}
	t.halt.ReqStop.Close()
	<-t.halt.Done.Chan
	return nil
}

func (t *Transport) enqueue(f func()) {
	select {
	case t.work <- f:
	case <-t.halt.ReqStop.Chan:
	}
}

func (t *Transport) dispatch() {
	defer t.halt.Done.Close()
	for {
		select {
		case f := <-t.work:
			f()
		case <-t.halt.ReqStop.Chan:
			return
		}
	}
}

func (t *Transport) Clients() (names []string) {
	for _, o := range t.net.others(t.name) {
		names = append(names, o.name)
	}
	return
}

func (t *Transport) GetInterfaces(ctx context.Context, peer string) ([]string, error) {
	o := t.net.lookup(peer)
	if o == nil || peer == t.name {
		return nil, fmt.Errorf("peer '%v' is not connected: %w", peer, obsrpc.ErrNotFound)
	}
	m := o.sink.Module()
	if m == nil {
		return nil, nil
	}
	return m.Advertised(), nil
}

// Execute runs the call on the target's module in a goroutine.
// Errors are reported as they would be over XMPP.
func (t *Transport) Execute(ctx context.Context, peer, method string, op *iface.Operation, args []any) *obsrpc.Future {
	fut := obsrpc.NewFuture(peer, method, op, t.wait)
	o := t.net.lookup(peer)
	if o == nil {
		fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, peer+" is not connected"))
		return fut
	}
	m := o.sink.Module()
	if m == nil {
		fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, peer+" serves no module"))
		return fut
	}
	sent, err := copyWire(args)
	if err != nil {
		fut.SetErr(fmt.Errorf("call %v.%v: %w: %w", peer, method, obsrpc.ErrValidation, err))
		return fut
	}
	go func() {
		wireArgs, _ := sent.([]any)
		target, bound, err := m.Prepare(method, wireArgs, nil)
		switch {
		case errors.Is(err, obsrpc.ErrNotFound):
			fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, err.Error()))
			return
		case err != nil:
			fut.SetErr(obsrpc.NewInvocationError(peer, method, 400, err.Error()))
			return
		}
		if d, err := m.TimeoutFor(target, bound); err == nil && d > 0 {
			fut.SetTimeout(d)
		}
		res, err := m.Invoke(obsrpc.WithSender(ctx, t.name), target, bound)
		switch {
		case errors.Is(err, obsrpc.ErrAuthorization):
			fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindAuthorization, peer, method, err.Error()))
			return
		case err != nil:
			fut.SetErr(obsrpc.NewInvocationError(peer, method, 500, err.Error()))
			return
		}
		back, err := copyWire(res)
		if err != nil {
			fut.SetErr(obsrpc.NewInvocationError(peer, method, 500,
				fmt.Sprintf("could not encode result: %v", err)))
			return
		}
		fut.SetResult(back)
	}()
	return fut
}

// SendEvent hands ev to every other module subscribed to its type.
func (t *Transport) SendEvent(ctx context.Context, ev *obsrpc.Event) error {
	by, err := obsrpc.MarshalEvent(ev)
	if err != nil {
		return err
	}
	for _, o := range t.net.others(t.name) {
		if !o.subscribed(ev.Type) {
			continue
		}
		got, _, ok, err := o.sink.Events().DecodeEvent(by)
		if err != nil || !ok {
			continue
		}
		got.Sender = t.name
		o.enqueue(func() { o.sink.DeliverEvent(got) })
	}
	return nil
}

func (t *Transport) subscribed(typ string) bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.subs[typ]
}

func (t *Transport) RegisterEvent(ctx context.Context, typ *obsrpc.EventType, subscribe bool) error {
	if subscribe {
		t.mut.Lock()
		t.subs[typ.Name] = true
		t.mut.Unlock()
	}
	return nil
}

// copyWire passes a wire value through msgpack and back.
func copyWire(v any) (any, error) {
	by, err := msgp.AppendIntf(nil, v)
	if err != nil {
		return nil, err
	}
	out, _, err := msgp.ReadIntfBytes(by)
	if err != nil {
		return nil, err
	}
	return normalize(out), nil
}

// normalize maps msgpack's decoded number widths back to the
// wire forms int and float64.
func normalize(v any) any {
	switch x := v.(type) {
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case int32:
		return int(x)
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	}
	return v
}
