package obsrpc

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test090_event_catalog(t *testing.T) {

	cv.Convey("derived types are found from their base", t, func() {
		names := func(ts []*EventType) (s []string) {
			for _, t := range ts {
				s = append(s, t.Name)
			}
			return
		}
		cv.So(names(Events.Derived(WeatherEvent)), cv.ShouldResemble,
			[]string{"BadWeatherEvent", "GoodWeatherEvent", "WeatherEvent"})
		cv.So(names(Events.Derived(RoofOpenedEvent)), cv.ShouldResemble, []string{"RoofOpenedEvent"})
		cv.So(MoveAltAzEvent.IsA(MoveEvent), cv.ShouldBeTrue)
		cv.So(MoveEvent.IsA(MoveAltAzEvent), cv.ShouldBeFalse)
		cv.So(ModuleClosedEvent.Local, cv.ShouldBeTrue)

		// defining again returns the existing type
		cv.So(Events.Define("WeatherEvent", nil, true), cv.ShouldEqual, WeatherEvent)
	})

	cv.Convey("the JSON envelope round trips, and unknown types decode as not ok", t, func() {
		ev := NewEvent(FilterChangedEvent.Name, map[string]any{"current": "V"})
		ev.Sender = "filterwheel"
		by, err := MarshalEvent(ev)
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(by), cv.ShouldNotContainSubstring, "filterwheel")

		got, typ, ok, err := Events.DecodeEvent(by)
		cv.So(err, cv.ShouldBeNil)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(typ, cv.ShouldEqual, FilterChangedEvent)
		cv.So(got.UUID, cv.ShouldEqual, ev.UUID)
		cv.So(got.Get("current"), cv.ShouldEqual, "V")
		cv.So(got.Age(time.Now()), cv.ShouldBeLessThan, 5*time.Second)

		_, _, ok, err = Events.DecodeEvent([]byte(`{"type":"Telepathy","timestamp":1,"uuid":"x","data":{}}`))
		cv.So(err, cv.ShouldBeNil)
		cv.So(ok, cv.ShouldBeFalse)

		_, _, ok, err = Events.DecodeEvent([]byte(`{"type":`))
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(ok, cv.ShouldBeFalse)
	})

	cv.Convey("a log entry becomes a LogEvent", t, func() {
		ev := NewLogEntryEvent(LogEntry{Time: time.Now(), Level: "WARN", File: "roof.go", Line: 12, Message: "wind"})
		cv.So(ev.Type, cv.ShouldEqual, "LogEvent")
		cv.So(ev.Get("message"), cv.ShouldEqual, "wind")
		cv.So(ev.Get("line"), cv.ShouldEqual, 12)
	})
}
