package xmpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/glycerine/obsrpc"
)

type pendingCall struct {
	id       string
	peer     string
	method   string
	fut      *obsrpc.Future
	sent     time.Time
	deadline time.Time
}

func (p *pendingCall) expiryKey() string {
	return fmt.Sprintf("%019d/%s", p.deadline.UnixNano(), p.id)
}

// RPC correlates outgoing calls with their responses and serves
// incoming calls against the local module.
type RPC struct {
	self  string
	send  func(*Stanza) error
	wait  time.Duration
	grace time.Duration
	log   *slog.Logger

	mut     sync.Mutex
	pending map[string]*pendingCall

	// expiry orders pending calls by deadline so the sweeper
	// can stop at the first one still in time.
	expiry *obsrpc.Omap[string, *pendingCall]
}

// NewRPC makes an RPC sending as self through send. wait is the
// default patience of the futures it hands out; a call stays in
// the table for wait, or its renegotiated timeout, plus grace.
func NewRPC(self string, send func(*Stanza) error, wait, grace time.Duration, log *slog.Logger) *RPC {
	if log == nil {
		log = slog.Default()
	}
	return &RPC{
		self:    self,
		send:    send,
		wait:    wait,
		grace:   grace,
		log:     log,
		pending: make(map[string]*pendingCall),
		expiry:  obsrpc.NewOmap[string, *pendingCall](),
	}
}

// Pending is the number of calls awaiting a response.
func (r *RPC) Pending() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	return len(r.pending)
}

// caller holds r.mut.
func (r *RPC) schedule(p *pendingCall, window time.Duration) {
	if !p.deadline.IsZero() {
		r.expiry.Delete(p.expiryKey())
	}
	p.deadline = p.sent.Add(window + r.grace)
	r.expiry.Set(p.expiryKey(), p)
}

// caller holds r.mut.
func (r *RPC) remove(id string) *pendingCall {
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	r.expiry.Delete(p.expiryKey())
	return p
}

// Call sends method with wire-form args to the full JID to.
// The returned future resolves when the response arrives.
func (r *RPC) Call(ctx context.Context, to, peer, method string, args []any) *obsrpc.Future {
	fut := obsrpc.NewFuture(peer, method, nil, r.wait)
	params, err := EncodeParams(args)
	if err != nil {
		fut.SetErr(fmt.Errorf("call %v.%v: %w: %w", peer, method, obsrpc.ErrValidation, err))
		return fut
	}
	p := &pendingCall{
		id:     obsrpc.NewCallID(),
		peer:   peer,
		method: method,
		fut:    fut,
		sent:   time.Now(),
	}
	iq := NewIQ("set", p.id, r.self, to)
	iq.RPC = &RPCQuery{MethodCall: &MethodCall{MethodName: method, Params: params}}

	r.mut.Lock()
	r.pending[p.id] = p
	r.schedule(p, r.wait)
	r.mut.Unlock()

	if err := r.send(iq); err != nil {
		r.mut.Lock()
		r.remove(p.id)
		r.mut.Unlock()
		fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method,
			fmt.Sprintf("could not send call: %v", err)))
	}
	return fut
}

// HandleResult dispatches an iq result addressed to us to
// HandleTimeout, HandleFault or HandleResponse.
func (r *RPC) HandleResult(st *Stanza) {
	if st.RPC == nil {
		return
	}
	switch resp := st.RPC.MethodResponse; {
	case st.RPC.MethodTimeout != nil:
		r.HandleTimeout(st.ID, st.RPC.MethodTimeout)
	case resp != nil && resp.Fault != nil:
		r.HandleFault(st.ID, resp.Fault)
	default:
		r.HandleResponse(st.ID, resp)
	}
}

// HandleTimeout extends the patience of a pending call. The call
// stays pending; its final response carries the same id.
func (r *RPC) HandleTimeout(id string, mt *MethodTimeout) {
	d := time.Duration(mt.Timeout) * time.Second
	r.mut.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mut.Unlock()
		vv("%v: timeout for unknown call id '%v'", r.self, id)
		return
	}
	if d > r.wait {
		r.schedule(p, d)
	}
	r.mut.Unlock()
	p.fut.SetTimeout(d)
}

// HandleFault fails a pending call with the remote handler's error.
func (r *RPC) HandleFault(id string, f *Fault) {
	p := r.take(id)
	if p == nil {
		return
	}
	code, msg := f.Decode()
	p.fut.SetErr(obsrpc.NewInvocationError(p.peer, p.method, code, msg))
}

// HandleResponse resolves a pending call with its first param,
// or nil when there is none. Responses for unknown ids, including
// ones already swept, are ignored.
func (r *RPC) HandleResponse(id string, resp *MethodResponse) {
	p := r.take(id)
	if p == nil {
		return
	}
	if resp == nil {
		p.fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, p.peer, p.method, "empty response"))
		return
	}
	vals, err := DecodeParams(resp.Params)
	if err != nil {
		p.fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, p.peer, p.method, err.Error()))
		return
	}
	var v any
	if len(vals) > 0 {
		v = vals[0]
	}
	p.fut.SetResult(v)
}

func (r *RPC) take(id string) *pendingCall {
	r.mut.Lock()
	defer r.mut.Unlock()
	p := r.remove(id)
	if p == nil {
		vv("%v: response for unknown call id '%v'", r.self, id)
	}
	return p
}

// HandleError processes an iq error answering one of our calls.
func (r *RPC) HandleError(st *Stanza) {
	p := r.take(st.ID)
	if p == nil {
		return
	}
	p.fut.SetErr(errorFromStanza(p.peer, p.method, st.Error))
}

func errorFromStanza(peer, method string, se *StanzaError) error {
	if se == nil {
		return obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, "unexpected error")
	}
	msg := se.Text
	switch se.Condition() {
	case CondItemNotFound:
		if msg == "" {
			msg = "method not found"
		}
		return obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, msg)
	case CondForbidden, CondNotAuthorized:
		if msg == "" {
			msg = "not allowed"
		}
		return obsrpc.NewRemoteError(obsrpc.KindAuthorization, peer, method, msg)
	case CondUndefined:
		if msg == "" {
			msg = "undefined condition"
		}
		return obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, msg)
	case CondServiceUnavailable, CondRemoteServerNotFound:
		if msg == "" {
			msg = "recipient unavailable"
		}
		return obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method, msg)
	}
	return obsrpc.NewRemoteError(obsrpc.KindRemote, peer, method,
		fmt.Sprintf("unexpected error condition '%v' %v", se.Condition(), msg))
}

// HandleCall answers an incoming call against m. When the method
// declares a timeout, the caller is told before the handler
// runs, so it can wait long enough. The handler itself runs
// on its own goroutine.
func (r *RPC) HandleCall(ctx context.Context, st *Stanza, m *obsrpc.Module) {
	call := st.RPC.MethodCall
	if m == nil {
		r.sendError(st, "cancel", CondServiceUnavailable, "no module")
		return
	}
	args, err := DecodeParams(call.Params)
	if err != nil {
		r.sendError(st, "modify", CondBadRequest, err.Error())
		return
	}
	op, bound, err := m.Prepare(call.MethodName, args, nil)
	switch {
	case errors.Is(err, obsrpc.ErrNotFound):
		r.sendError(st, "cancel", CondItemNotFound, err.Error())
		return
	case err != nil:
		r.sendFault(st, 400, err.Error())
		return
	}

	timeout, err := m.TimeoutFor(op, bound)
	if err != nil {
		r.log.Warn("evaluating call timeout", "method", op.Name, "error", err)
	}
	if timeout > 0 {
		iq := st.reply("result")
		iq.From = r.self
		iq.RPC = &RPCQuery{MethodTimeout: &MethodTimeout{
			Timeout: int(math.Ceil(timeout.Seconds())),
		}}
		if err := r.send(iq); err != nil {
			r.log.Warn("sending call timeout", "method", op.Name, "error", err)
		}
	}

	ctx = obsrpc.WithSender(ctx, Short(st.From))
	go func() {
		res, err := m.Invoke(ctx, op, bound)
		switch {
		case errors.Is(err, obsrpc.ErrAuthorization):
			r.sendError(st, "auth", CondForbidden, err.Error())
		case err != nil:
			r.sendFault(st, 500, err.Error())
		default:
			r.sendResponse(st, res)
		}
	}()
}

func (r *RPC) sendResponse(st *Stanza, res any) {
	ps := &Params{}
	if res != nil {
		v, err := ToValue(res)
		if err != nil {
			r.sendFault(st, 500, fmt.Sprintf("could not encode result: %v", err))
			return
		}
		ps.Param = append(ps.Param, Param{Value: v})
	}
	iq := st.reply("result")
	iq.From = r.self
	iq.RPC = &RPCQuery{MethodResponse: &MethodResponse{Params: ps}}
	if err := r.send(iq); err != nil {
		r.log.Warn("sending response", "to", st.From, "error", err)
	}
}

func (r *RPC) sendFault(st *Stanza, code int, msg string) {
	faultsSent.Inc()
	iq := st.reply("result")
	iq.From = r.self
	iq.RPC = &RPCQuery{MethodResponse: &MethodResponse{Fault: NewFault(code, msg)}}
	if err := r.send(iq); err != nil {
		r.log.Warn("sending fault", "to", st.From, "error", err)
	}
}

func (r *RPC) sendError(st *Stanza, typ, cond, text string) {
	iq := st.reply("error")
	iq.From = r.self
	iq.Error = NewStanzaError(typ, cond, text)
	if err := r.send(iq); err != nil {
		r.log.Warn("sending error", "to", st.From, "error", err)
	}
}

// Sweep fails and forgets every call whose deadline is before now.
// It returns how many were swept.
func (r *RPC) Sweep(now time.Time) (n int) {
	var expired []*pendingCall
	r.mut.Lock()
	for _, p := range r.expiry.All() {
		if p.deadline.After(now) {
			break
		}
		expired = append(expired, p)
	}
	for _, p := range expired {
		r.remove(p.id)
	}
	r.mut.Unlock()
	for _, p := range expired {
		p.fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindTimeout, p.peer, p.method,
			fmt.Sprintf("no response since %v", p.sent.Format(time.RFC3339))))
	}
	return len(expired)
}

// Run sweeps expired calls until ctx is done.
func (r *RPC) Run(ctx context.Context) error {
	period := r.grace
	if period <= 0 || period > time.Second {
		period = time.Second
	}
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			if n := r.Sweep(now); n > 0 {
				r.log.Debug("swept expired calls", "count", n)
			}
		}
	}
}

// FailAll resolves every pending call with err, e.g. when the
// stream is lost.
func (r *RPC) FailAll(err error) {
	r.mut.Lock()
	all := make([]*pendingCall, 0, len(r.pending))
	for _, p := range r.pending {
		all = append(all, p)
	}
	r.pending = make(map[string]*pendingCall)
	r.expiry.DeleteAll()
	r.mut.Unlock()
	for _, p := range all {
		p.fut.SetErr(obsrpc.NewRemoteError(obsrpc.KindRemote, p.peer, p.method, err.Error()))
	}
}
