package obsrpc

import (
	"context"
	"strings"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test100_logs_are_forwarded(t *testing.T) {

	cv.Convey("records at or above the forward level go out as LogEvents", t, func() {
		tr := newFakeTransport(nil)
		cfg := NewConfig()
		cfg.Name = "dome"
		cfg.LogTick = 10 * time.Millisecond
		cfg.LogForwardLevel = "warn"
		c := NewComm(cfg, tr, nil)
		cv.So(c.Open(context.Background()), cv.ShouldBeNil)
		defer c.Close()

		c.Log.Info("shutter moving")
		c.Log.WithGroup("motor").Warn("current high", "amps", 7)

		deadline := time.Now().Add(5 * time.Second)
		var logs []*Event
		for time.Now().Before(deadline) {
			if logs = tr.sentOf("LogEvent"); len(logs) > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cv.So(len(logs), cv.ShouldEqual, 1)
		msg := logs[0].Get("message").(string)
		cv.So(strings.HasPrefix(msg, "current high"), cv.ShouldBeTrue)
		cv.So(msg, cv.ShouldContainSubstring, "motor.amps=7")
		cv.So(logs[0].Get("level"), cv.ShouldEqual, "WARN")
		cv.So(logs[0].Get("filename"), cv.ShouldEqual, "logfwd_test.go")
		cv.So(logs[0].Sender, cv.ShouldEqual, "dome")
	})

	cv.Convey("comm and shared variable warnings are queued for forwarding", t, func() {
		cfg := NewConfig()
		cfg.Name = "dome"
		c := NewComm(cfg, newFakeTransport(nil), nil)
		c.vars.apply("focus", 1.5, "telescope")
		cv.So(c.vars.Set(context.Background(), "focus", 2.5), cv.ShouldBeNil)

		var found bool
		for len(c.logq) > 0 {
			e := <-c.logq
			if strings.HasPrefix(e.Message, "overwriting shared variable") {
				found = true
				cv.So(e.Level, cv.ShouldEqual, "WARN")
				cv.So(e.Message, cv.ShouldContainSubstring, "owner=telescope")
			}
		}
		cv.So(found, cv.ShouldBeTrue)
	})

	cv.Convey("a full queue drops records instead of blocking", t, func() {
		cfg := NewConfig()
		cfg.Name = "dome"
		cfg.LogQueueSize = 2
		c := NewComm(cfg, newFakeTransport(nil), nil)
		for range 5 {
			c.LogMessage(LogEntry{Time: time.Now(), Message: "flood"})
		}
		cv.So(len(c.logq), cv.ShouldEqual, 2)
	})
}
