package obsrpc

import (
	"context"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

// memHub connects memBus instances synchronously.
type memHub struct {
	mut   sync.Mutex
	buses []*memBus
}

type memBus struct {
	name     string
	hub      *memHub
	mut      sync.Mutex
	handlers map[string][]EventHandler
	sends    int
}

func (h *memHub) join(name string) *memBus {
	b := &memBus{name: name, hub: h, handlers: make(map[string][]EventHandler)}
	h.mut.Lock()
	h.buses = append(h.buses, b)
	h.mut.Unlock()
	return b
}

func (b *memBus) Name() string { return b.name }

func (b *memBus) SendEvent(ctx context.Context, ev *Event) error {
	b.mut.Lock()
	b.sends++
	b.mut.Unlock()
	ev.Sender = b.name
	b.hub.mut.Lock()
	others := append([]*memBus(nil), b.hub.buses...)
	b.hub.mut.Unlock()
	for _, o := range others {
		if o == b {
			continue
		}
		o.mut.Lock()
		hs := append([]EventHandler(nil), o.handlers[ev.Type]...)
		o.mut.Unlock()
		for _, h := range hs {
			h(ctx, ev)
		}
	}
	return nil
}

func (b *memBus) RegisterEvent(ctx context.Context, typ *EventType, key string, h EventHandler) error {
	b.mut.Lock()
	b.handlers[typ.Name] = append(b.handlers[typ.Name], h)
	b.mut.Unlock()
	return nil
}

func (b *memBus) sendCount() int {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.sends
}

func Test040_shared_variables_do_not_echo(t *testing.T) {

	cv.Convey("a value received from a peer is stored with its source and not re-broadcast", t, func() {
		hub := &memHub{}
		ba, bb := hub.join("telescope"), hub.join("camera")
		a := NewSharedVariableCache(ba, time.Hour, nil)
		b := NewSharedVariableCache(bb, time.Hour, nil)
		ctx := context.Background()
		cv.So(a.Subscribe(ctx), cv.ShouldBeNil)
		cv.So(b.Subscribe(ctx), cv.ShouldBeNil)

		var changes []string
		b.OnChange("focus", func(name string, value any, source string) {
			changes = append(changes, source)
		})

		cv.So(a.Set(ctx, "focus", 42.5), cv.ShouldBeNil)
		cv.So(b.Get("focus"), cv.ShouldEqual, 42.5)
		cv.So(b.Source("focus"), cv.ShouldEqual, "telescope")
		cv.So(a.Source("focus"), cv.ShouldEqual, "")
		cv.So(changes, cv.ShouldResemble, []string{"telescope"})
		cv.So(bb.sendCount(), cv.ShouldEqual, 0)

		// setting the same value again sends nothing
		cv.So(a.Set(ctx, "focus", 42.5), cv.ShouldBeNil)
		cv.So(ba.sendCount(), cv.ShouldEqual, 1)

		// last writer wins, and ownership moves
		cv.So(b.Set(ctx, "focus", 40.0), cv.ShouldBeNil)
		cv.So(a.Get("focus"), cv.ShouldEqual, 40.0)
		cv.So(a.Source("focus"), cv.ShouldEqual, "camera")
		cv.So(b.Source("focus"), cv.ShouldEqual, "")

		_, ok := a.Lookup("never-set")
		cv.So(ok, cv.ShouldBeFalse)
		cv.So(a.Keys(), cv.ShouldResemble, []string{"focus"})
	})
}

func Test041_shared_variables_converge(t *testing.T) {

	cv.Convey("a peer that joins late catches up from the periodic broadcast", t, func() {
		hub := &memHub{}
		ba := hub.join("telescope")
		a := NewSharedVariableCache(ba, time.Hour, nil)
		ctx := context.Background()
		cv.So(a.Subscribe(ctx), cv.ShouldBeNil)
		a.Set(ctx, "ra", 10.5)
		a.Set(ctx, "dec", -3.25)

		bb := hub.join("camera")
		b := NewSharedVariableCache(bb, time.Hour, nil)
		cv.So(b.Subscribe(ctx), cv.ShouldBeNil)
		cv.So(b.Get("ra"), cv.ShouldBeNil)

		cv.So(a.Broadcast(ctx), cv.ShouldBeNil)
		cv.So(b.Get("ra"), cv.ShouldEqual, 10.5)
		cv.So(b.Get("dec"), cv.ShouldEqual, -3.25)
		v, ok := b.Lookup("dec")
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(v.Source, cv.ShouldEqual, "telescope")

		// b has nothing of its own to push
		cv.So(b.Broadcast(ctx), cv.ShouldBeNil)
		cv.So(bb.sendCount(), cv.ShouldEqual, 0)
	})

	cv.Convey("Open runs the replication loop until Close", t, func() {
		hub := &memHub{}
		ba, bb := hub.join("telescope"), hub.join("camera")
		a := NewSharedVariableCache(ba, 20*time.Millisecond, nil)
		b := NewSharedVariableCache(bb, time.Hour, nil)
		ctx := context.Background()
		a.Set(ctx, "mode", "survey")
		cv.So(b.Subscribe(ctx), cv.ShouldBeNil)

		var mut sync.Mutex
		got := make(chan any, 1)
		b.OnChange("mode", func(name string, value any, source string) {
			mut.Lock()
			defer mut.Unlock()
			select {
			case got <- value:
			default:
			}
		})
		cv.So(a.Open(ctx), cv.ShouldBeNil)
		select {
		case v := <-got:
			cv.So(v, cv.ShouldEqual, "survey")
		case <-time.After(5 * time.Second):
			t.Fatal("no replication")
		}
		a.Close()
	})
}
