package xmpp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
	"github.com/glycerine/obsrpc"
	"github.com/glycerine/obsrpc/iface"
)

// capture collects what an RPC sends.
type capture struct {
	ch   chan *Stanza
	fail error
}

func newCapture() *capture {
	return &capture{ch: make(chan *Stanza, 16)}
}

func (c *capture) send(s *Stanza) error {
	if c.fail != nil {
		return c.fail
	}
	c.ch <- s
	return nil
}

func (c *capture) next() *Stanza {
	select {
	case s := <-c.ch:
		return s
	case <-time.After(5 * time.Second):
		panic("nothing sent")
	}
}

func Test010_fault_becomes_invocation_error(t *testing.T) {

	cv.Convey("a fault answering a call fails the future with an invocation error carrying the message", t, func() {
		sent := newCapture()
		r := NewRPC("a@obs/pyobs", sent.send, time.Second, time.Second, nil)
		fut := r.Call(context.Background(), "b@obs/pyobs", "b", "get_label", nil)
		call := sent.next()
		cv.So(call.Type, cv.ShouldEqual, "set")
		cv.So(call.RPC.MethodCall.MethodName, cv.ShouldEqual, "get_label")
		cv.So(r.Pending(), cv.ShouldEqual, 1)

		res := call.reply("result")
		res.RPC = &RPCQuery{MethodResponse: &MethodResponse{Fault: NewFault(500, "boom")}}
		r.HandleResult(res)
		cv.So(r.Pending(), cv.ShouldEqual, 0)

		_, err := fut.Wait(context.Background())
		cv.So(errors.Is(err, obsrpc.ErrInvocation), cv.ShouldBeTrue)
		cv.So(errors.Is(err, obsrpc.ErrRemote), cv.ShouldBeTrue)
		var re *obsrpc.RemoteError
		cv.So(errors.As(err, &re), cv.ShouldBeTrue)
		cv.So(re.Msg, cv.ShouldEqual, "boom")
		cv.So(re.Code, cv.ShouldEqual, 500)

		// a late duplicate is ignored
		r.HandleResult(res)
		_, err2 := fut.Wait(context.Background())
		cv.So(err2, cv.ShouldEqual, err)
	})
}

func Test011_method_timeout_extends_patience(t *testing.T) {

	cv.Convey("a call with a 50ms window survives a 200ms handler when the callee asks for 1s", t, func() {
		sent := newCapture()
		r := NewRPC("a@obs/pyobs", sent.send, 50*time.Millisecond, time.Second, nil)
		fut := r.Call(context.Background(), "b@obs/pyobs", "b", "park", nil)
		call := sent.next()

		tmo := call.reply("result")
		tmo.RPC = &RPCQuery{MethodTimeout: &MethodTimeout{Timeout: 1}}
		r.HandleResult(tmo)
		cv.So(fut.Timeout(), cv.ShouldEqual, time.Second)
		cv.So(r.Pending(), cv.ShouldEqual, 1)

		go func() {
			time.Sleep(200 * time.Millisecond)
			ps, _ := EncodeParams([]any{"parked"})
			res := call.reply("result")
			res.RPC = &RPCQuery{MethodResponse: &MethodResponse{Params: ps}}
			r.HandleResult(res)
		}()
		v, err := fut.Wait(context.Background())
		cv.So(err, cv.ShouldBeNil)
		cv.So(v, cv.ShouldEqual, "parked")
	})

	cv.Convey("without the extension the same call times out", t, func() {
		sent := newCapture()
		r := NewRPC("a@obs/pyobs", sent.send, 50*time.Millisecond, time.Second, nil)
		fut := r.Call(context.Background(), "b@obs/pyobs", "b", "park", nil)
		sent.next()
		_, err := fut.Wait(context.Background())
		cv.So(errors.Is(err, obsrpc.ErrTimeout), cv.ShouldBeTrue)
	})
}

func Test012_error_conditions_map_to_error_kinds(t *testing.T) {

	cv.Convey("each stanza error condition maps to the matching error kind", t, func() {
		cases := []struct {
			cond string
			want error
		}{
			{CondItemNotFound, obsrpc.ErrRemote},
			{CondUndefined, obsrpc.ErrRemote},
			{CondServiceUnavailable, obsrpc.ErrRemote},
			{CondRemoteServerNotFound, obsrpc.ErrRemote},
			{CondForbidden, obsrpc.ErrAuthorization},
			{CondBadRequest, obsrpc.ErrRemote},
		}
		for _, c := range cases {
			sent := newCapture()
			r := NewRPC("a@obs/pyobs", sent.send, time.Second, time.Second, nil)
			fut := r.Call(context.Background(), "b@obs/pyobs", "b", "m", nil)
			call := sent.next()
			e := call.reply("error")
			e.Error = NewStanzaError("cancel", c.cond, "")
			r.HandleError(e)
			_, err := fut.Wait(context.Background())
			cv.So(errors.Is(err, c.want), cv.ShouldBeTrue)
			if c.cond != CondForbidden {
				cv.So(errors.Is(err, obsrpc.ErrAuthorization), cv.ShouldBeFalse)
			}
		}
		var re *obsrpc.RemoteError
		err := errorFromStanza("b", "m", NewStanzaError("cancel", CondBadRequest, ""))
		cv.So(errors.As(err, &re), cv.ShouldBeTrue)
		cv.So(re.Msg, cv.ShouldContainSubstring, "unexpected")
	})

	cv.Convey("a failed send fails the future at once and leaves nothing pending", t, func() {
		sent := newCapture()
		sent.fail = fmt.Errorf("pipe down")
		r := NewRPC("a@obs/pyobs", sent.send, time.Second, time.Second, nil)
		fut := r.Call(context.Background(), "b@obs/pyobs", "b", "m", nil)
		_, err, ok := fut.Result()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(errors.Is(err, obsrpc.ErrRemote), cv.ShouldBeTrue)
		cv.So(r.Pending(), cv.ShouldEqual, 0)
	})
}

func Test013_sweeper_bounds_the_table(t *testing.T) {

	cv.Convey("calls past their window plus grace are swept, renegotiated ones are kept", t, func() {
		sent := newCapture()
		r := NewRPC("a@obs/pyobs", sent.send, time.Second, time.Second, nil)
		quick := r.Call(context.Background(), "b@obs/pyobs", "b", "m1", nil)
		sent.next()
		slow := r.Call(context.Background(), "b@obs/pyobs", "b", "park", nil)
		slowCall := sent.next()
		tmo := slowCall.reply("result")
		tmo.RPC = &RPCQuery{MethodTimeout: &MethodTimeout{Timeout: 300}}
		r.HandleResult(tmo)

		cv.So(r.Sweep(time.Now()), cv.ShouldEqual, 0)
		cv.So(r.Sweep(time.Now().Add(3*time.Second)), cv.ShouldEqual, 1)
		cv.So(r.Pending(), cv.ShouldEqual, 1)

		_, err, ok := quick.Result()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(errors.Is(err, obsrpc.ErrTimeout), cv.ShouldBeTrue)
		_, _, ok = slow.Result()
		cv.So(ok, cv.ShouldBeFalse)

		r.FailAll(obsrpc.ErrShutdown)
		cv.So(r.Pending(), cv.ShouldEqual, 0)
		_, _, ok = slow.Result()
		cv.So(ok, cv.ShouldBeTrue)
	})
}

func Test014_serving_calls(t *testing.T) {

	cv.Convey("incoming calls are bound, announced when slow, and answered", t, func() {
		cam, err := obsrpc.NewModule("camera", iface.Default, iface.ICamera)
		panicOn(err)
		cam.MustHandle("expose", func(ctx context.Context, args []any) (any, error) {
			return fmt.Sprintf("%v/%v/%v for %v", args[0], args[1], args[2], obsrpc.SenderFromContext(ctx)), nil
		})
		cam.MustHandle("abort", func(ctx context.Context, args []any) (any, error) {
			return nil, fmt.Errorf("nothing to abort: %w", obsrpc.ErrAuthorization)
		})
		cam.MustHandle("get_exposure_status", func(ctx context.Context, args []any) (any, error) {
			return nil, fmt.Errorf("sensor offline")
		})

		sent := newCapture()
		r := NewRPC("camera@obs/pyobs", sent.send, time.Second, time.Second, nil)
		call := func(method string, args ...any) *Stanza {
			ps, err := EncodeParams(args)
			panicOn(err)
			st := NewIQ("set", "c-"+method, "task@obs/pyobs", "camera@obs/pyobs")
			st.RPC = &RPCQuery{MethodCall: &MethodCall{MethodName: method, Params: ps}}
			return st
		}

		r.HandleCall(context.Background(), call("expose", 2.0), cam)
		first := sent.next()
		cv.So(first.RPC.MethodTimeout, cv.ShouldNotBeNil)
		cv.So(first.RPC.MethodTimeout.Timeout, cv.ShouldEqual, 12)
		cv.So(first.To, cv.ShouldEqual, "task@obs/pyobs")
		resp := sent.next()
		cv.So(resp.ID, cv.ShouldEqual, "c-expose")
		vals, err := DecodeParams(resp.RPC.MethodResponse.Params)
		cv.So(err, cv.ShouldBeNil)
		cv.So(vals, cv.ShouldResemble, []any{"2/object/1 for task"})

		r.HandleCall(context.Background(), call("no_such_method"), cam)
		e := sent.next()
		cv.So(e.Type, cv.ShouldEqual, "error")
		cv.So(e.Error.Condition(), cv.ShouldEqual, CondItemNotFound)

		r.HandleCall(context.Background(), call("abort"), cam)
		e = sent.next()
		cv.So(e.Error.Condition(), cv.ShouldEqual, CondForbidden)

		r.HandleCall(context.Background(), call("get_exposure_status"), cam)
		f := sent.next()
		code, msg := f.RPC.MethodResponse.Fault.Decode()
		cv.So(code, cv.ShouldEqual, 500)
		cv.So(msg, cv.ShouldContainSubstring, "sensor offline")

		r.HandleCall(context.Background(), call("reset_error"), cam)
		ok := sent.next()
		vals, _ = DecodeParams(ok.RPC.MethodResponse.Params)
		cv.So(vals, cv.ShouldResemble, []any{true})
	})

	cv.Convey("a fixed timeout is announced and a nil result travels as empty params", t, func() {
		roof, err := obsrpc.NewModule("roof", iface.Default, iface.IRoof)
		panicOn(err)
		roof.MustHandle("park", func(ctx context.Context, args []any) (any, error) {
			return nil, nil
		})
		sent := newCapture()
		r := NewRPC("roof@obs/pyobs", sent.send, time.Second, time.Second, nil)
		st := NewIQ("set", "p1", "task@obs/pyobs", "roof@obs/pyobs")
		st.RPC = &RPCQuery{MethodCall: &MethodCall{MethodName: "park", Params: &Params{}}}
		r.HandleCall(context.Background(), st, roof)

		first := sent.next()
		cv.So(first.RPC.MethodTimeout.Timeout, cv.ShouldEqual, 300)
		resp := sent.next()
		cv.So(resp.RPC.MethodResponse.Fault, cv.ShouldBeNil)
		vals, err := DecodeParams(resp.RPC.MethodResponse.Params)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(vals), cv.ShouldEqual, 0)
	})
}
