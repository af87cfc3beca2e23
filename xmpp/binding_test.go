package xmpp

import (
	"math"
	"strings"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test001_values_survive_the_xml_rpc_encoding(t *testing.T) {

	cv.Convey("every wire type round-trips through a params element", t, func() {
		tm := time.Date(2024, 3, 1, 22, 15, 7, 0, time.UTC)
		args := []any{
			nil, true, 42, 3.25, "M31", []byte{0, 1, 2, 255}, tm,
			[]any{1, "two", []any{3.0}},
			map[string]any{"ra": 10.5, "dec": -3.0, "name": "target"},
		}
		ps, err := EncodeParams(args)
		cv.So(err, cv.ShouldBeNil)

		st := NewIQ("set", "id1", "a@obs/pyobs", "b@obs/pyobs")
		st.RPC = &RPCQuery{MethodCall: &MethodCall{MethodName: "move_radec", Params: ps}}
		by, err := Encode(st)
		cv.So(err, cv.ShouldBeNil)

		back, err := Decode(by)
		cv.So(err, cv.ShouldBeNil)
		cv.So(back.Kind(), cv.ShouldEqual, "iq")
		cv.So(back.RPC.MethodCall.MethodName, cv.ShouldEqual, "move_radec")

		got, err := DecodeParams(back.RPC.MethodCall.Params)
		cv.So(err, cv.ShouldBeNil)
		cv.So(got, cv.ShouldResemble, args)
	})

	cv.Convey("typed Go values are encoded by their kind", t, func() {
		type filter string
		v, err := ToValue([]filter{"V", "R"})
		cv.So(err, cv.ShouldBeNil)
		x, err := FromValue(v)
		cv.So(err, cv.ShouldBeNil)
		cv.So(x, cv.ShouldResemble, []any{"V", "R"})

		v, err = ToValue(map[string]int{"a": 1})
		cv.So(err, cv.ShouldBeNil)
		x, err = FromValue(v)
		cv.So(err, cv.ShouldBeNil)
		cv.So(x, cv.ShouldResemble, map[string]any{"a": 1})

		_, err = ToValue(make(chan int))
		cv.So(err, cv.ShouldNotBeNil)
	})

	cv.Convey("unsigned values must fit a signed wire int", t, func() {
		v, err := ToValue(uint64(7))
		cv.So(err, cv.ShouldBeNil)
		x, err := FromValue(v)
		cv.So(err, cv.ShouldBeNil)
		cv.So(x, cv.ShouldEqual, 7)

		v, err = ToValue(uint64(math.MaxInt64))
		cv.So(err, cv.ShouldBeNil)
		cv.So(*v.Int, cv.ShouldEqual, int64(math.MaxInt64))

		_, err = ToValue(uint64(math.MaxUint64))
		cv.So(err, cv.ShouldNotBeNil)
		_, err = EncodeParams([]any{uint32(5), uint64(math.MaxUint64)})
		cv.So(err, cv.ShouldNotBeNil)
	})

	cv.Convey("untyped character data and i4 are understood", t, func() {
		raw := `<iq type="result" id="x"><query xmlns="jabber:iq:rpc"><methodResponse><params>` +
			`<param><value>plain</value></param>` +
			`<param><value><i4>-7</i4></value></param>` +
			`</params></methodResponse></query></iq>`
		st, err := Decode([]byte(raw))
		cv.So(err, cv.ShouldBeNil)
		got, err := DecodeParams(st.RPC.MethodResponse.Params)
		cv.So(err, cv.ShouldBeNil)
		cv.So(got, cv.ShouldResemble, []any{"plain", -7})
	})

	cv.Convey("faults carry a code and a message", t, func() {
		f := NewFault(500, "boom")
		code, msg := f.Decode()
		cv.So(code, cv.ShouldEqual, 500)
		cv.So(msg, cv.ShouldEqual, "boom")
	})
}

func Test002_stanza_errors_and_jids(t *testing.T) {

	cv.Convey("a stanza error keeps its defined condition and text", t, func() {
		st := NewIQ("error", "id9", "b@obs/pyobs", "a@obs/pyobs")
		st.Error = NewStanzaError("cancel", CondItemNotFound, "no such method")
		by, err := Encode(st)
		cv.So(err, cv.ShouldBeNil)
		cv.So(strings.Contains(string(by), NSStanzas), cv.ShouldBeTrue)

		back, err := Decode(by)
		cv.So(err, cv.ShouldBeNil)
		cv.So(back.Error.Condition(), cv.ShouldEqual, CondItemNotFound)
		cv.So(back.Error.Text, cv.ShouldEqual, "no such method")
	})

	cv.Convey("short module names expand to full jids", t, func() {
		cv.So(Expand("camera", "obs.example", ""), cv.ShouldEqual, "camera@obs.example/pyobs")
		cv.So(Expand("camera@other", "obs.example", "r1"), cv.ShouldEqual, "camera@other/r1")
		cv.So(Expand("camera@other/x", "obs.example", ""), cv.ShouldEqual, "camera@other/x")

		j, err := ParseJID("camera@obs.example/pyobs")
		cv.So(err, cv.ShouldBeNil)
		cv.So(j.User, cv.ShouldEqual, "camera")
		cv.So(j.Bare(), cv.ShouldEqual, "camera@obs.example")
		cv.So(Short(j.String()), cv.ShouldEqual, "camera")

		_, err = ParseJID("camera@")
		cv.So(err, cv.ShouldNotBeNil)
	})
}
