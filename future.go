package obsrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/loquet"
	"github.com/glycerine/obsrpc/iface"
)

// DefaultCallTimeout is how long Wait is patient when the
// callee has not asked for more time.
const DefaultCallTimeout = 10 * time.Second

// Future is the single-assignment result of a remote call.
//
// It is resolved exactly once, by SetResult or SetErr; later
// attempts are ignored and report false. The callee may extend
// the caller's patience while the call is in flight with
// SetTimeout. Any number of goroutines may Wait.
type Future struct {
	mut sync.Mutex

	Peer   string
	Method string

	// op, when set, drives the wire-to-real cast of the result.
	op *iface.Operation

	defaultWait time.Duration
	extended    time.Duration

	// renego is closed and replaced on every SetTimeout,
	// waking waiters so they can recompute their deadline.
	renego chan struct{}

	resolved bool
	value    any
	err      error

	done *loquet.Chan[bool]
}

// NewFuture returns a pending Future. defaultWait <= 0
// selects DefaultCallTimeout.
func NewFuture(peer, method string, op *iface.Operation, defaultWait time.Duration) *Future {
	if defaultWait <= 0 {
		defaultWait = DefaultCallTimeout
	}
	return &Future{
		Peer:        peer,
		Method:      method,
		op:          op,
		defaultWait: defaultWait,
		renego:      make(chan struct{}),
		done:        loquet.NewChan[bool](nil),
	}
}

// NewFailedFuture is already resolved with err.
func NewFailedFuture(peer, method string, err error) *Future {
	f := NewFuture(peer, method, nil, 0)
	f.SetErr(err)
	return f
}

// NewResolvedFuture is already resolved with v.
func NewResolvedFuture(peer, method string, op *iface.Operation, v any) *Future {
	f := NewFuture(peer, method, op, 0)
	f.SetResult(v)
	return f
}

// Operation returns the signature attached to f, if any.
func (f *Future) Operation() *iface.Operation {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.op
}

// SetOperation attaches a signature used to cast the result.
func (f *Future) SetOperation(op *iface.Operation) {
	f.mut.Lock()
	f.op = op
	f.mut.Unlock()
}

// SetResult fulfills f with the wire value v.
// Returns false if f was already resolved.
func (f *Future) SetResult(v any) bool {
	return f.resolve(v, nil)
}

// SetErr fails f with err.
// Returns false if f was already resolved.
func (f *Future) SetErr(err error) bool {
	if err == nil {
		err = fmt.Errorf("nil error given to SetErr: %w", ErrRemote)
	}
	return f.resolve(nil, err)
}

func (f *Future) resolve(v any, err error) bool {
	f.mut.Lock()
	if f.resolved {
		f.mut.Unlock()
		return false
	}
	f.resolved = true
	f.value = v
	f.err = err
	f.mut.Unlock()
	f.done.Close()
	return true
}

// SetTimeout records that the callee expects to need d in total.
// It does not resolve f, and it is ignored once f is resolved.
func (f *Future) SetTimeout(d time.Duration) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.resolved {
		return
	}
	f.extended = d
	close(f.renego)
	f.renego = make(chan struct{})
}

// Timeout returns the renegotiated timeout, 0 if none.
func (f *Future) Timeout() time.Duration {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.extended
}

// Done is closed once f is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done.WhenClosed()
}

// Result is the non-blocking form of Wait; ok is false
// while f is pending.
func (f *Future) Result() (v any, err error, ok bool) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if !f.resolved {
		return nil, nil, false
	}
	v, err = f.outcome()
	return v, err, true
}

// caller holds f.mut and f.resolved is true.
func (f *Future) outcome() (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.op != nil {
		return ToReal(f.value, f.op.Result), nil
	}
	return f.value, nil
}

// Wait blocks until f is resolved, ctx is done, or the
// patience window closes. The window is the default wait,
// or the renegotiated timeout if that is longer; both are
// measured from the start of Wait. A renegotiation that
// arrives mid-wait takes effect at once.
func (f *Future) Wait(ctx context.Context) (any, error) {
	t0 := time.Now()
	for {
		f.mut.Lock()
		if f.resolved {
			v, err := f.outcome()
			f.mut.Unlock()
			return v, err
		}
		limit := f.defaultWait
		if f.extended > limit {
			limit = f.extended
		}
		renego := f.renego
		f.mut.Unlock()

		remain := limit - time.Since(t0)
		if remain <= 0 {
			callTimeouts.Inc()
			return nil, NewRemoteError(KindTimeout, f.Peer, f.Method,
				fmt.Sprintf("no response within %v", limit))
		}
		timer := time.NewTimer(remain)
		select {
		case <-f.done.WhenClosed():
		case <-renego:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// WaitAs waits on f and asserts the result to T.
// A nil result yields the zero T.
func WaitAs[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%v.%v returned %T, wanted %T: %w",
			f.Peer, f.Method, v, zero, ErrValidation)
	}
	return t, nil
}

// WaitAll waits on every future and returns their results in
// order. The first error encountered is returned, but all
// futures are still waited on.
func WaitAll(ctx context.Context, fs ...*Future) (vals []any, err error) {
	vals = make([]any, len(fs))
	for i, f := range fs {
		v, err1 := f.Wait(ctx)
		vals[i] = v
		if err1 != nil && err == nil {
			err = err1
		}
	}
	return
}
