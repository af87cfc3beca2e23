package obsrpc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
	"github.com/glycerine/obsrpc/iface"
)

// fakeTransport is a Transport with a fixed set of peers. Calls
// resolve immediately with nil; sent events are recorded.
type fakeTransport struct {
	mut        sync.Mutex
	peers      map[string][]string
	lookups    map[string]int
	sent       []*Event
	registered map[string]bool
	sink       Sink
	opened     bool
	openErr    error
	regErr     error

	// hold, when set, stalls GetInterfaces until it is closed.
	hold chan struct{}
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport(peers map[string][]string) *fakeTransport {
	if peers == nil {
		peers = make(map[string][]string)
	}
	return &fakeTransport{
		peers:      peers,
		lookups:    make(map[string]int),
		registered: make(map[string]bool),
	}
}

func (f *fakeTransport) Open(ctx context.Context, sink Sink) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.sink = sink
	f.opened = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mut.Lock()
	f.opened = false
	f.mut.Unlock()
	return nil
}

func (f *fakeTransport) Clients() (names []string) {
	f.mut.Lock()
	defer f.mut.Unlock()
	for k := range f.peers {
		names = append(names, k)
	}
	sort.Strings(names)
	return
}

func (f *fakeTransport) GetInterfaces(ctx context.Context, peer string) ([]string, error) {
	f.mut.Lock()
	f.lookups[peer]++
	hold := f.hold
	f.mut.Unlock()
	if hold != nil {
		<-hold
	}
	f.mut.Lock()
	defer f.mut.Unlock()
	names, ok := f.peers[peer]
	if !ok {
		return nil, ErrNotFound
	}
	return names, nil
}

func (f *fakeTransport) Execute(ctx context.Context, peer, method string, op *iface.Operation, args []any) *Future {
	return NewResolvedFuture(peer, method, nil, nil)
}

func (f *fakeTransport) SendEvent(ctx context.Context, ev *Event) error {
	f.mut.Lock()
	f.sent = append(f.sent, ev)
	f.mut.Unlock()
	return nil
}

func (f *fakeTransport) RegisterEvent(ctx context.Context, typ *EventType, subscribe bool) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.regErr != nil {
		return f.regErr
	}
	f.registered[typ.Name] = subscribe
	return nil
}

func (f *fakeTransport) isOpened() bool {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.opened
}

func (f *fakeTransport) lookupCount(peer string) int {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.lookups[peer]
}

func (f *fakeTransport) removePeer(peer string) {
	f.mut.Lock()
	delete(f.peers, peer)
	f.mut.Unlock()
}

func (f *fakeTransport) sentOf(typ string) (evs []*Event) {
	f.mut.Lock()
	defer f.mut.Unlock()
	for _, ev := range f.sent {
		if ev.Type == typ {
			evs = append(evs, ev)
		}
	}
	return
}

func newTestComm(name string, tr Transport) *Comm {
	cfg := NewConfig()
	cfg.Name = name
	return NewComm(cfg, tr, nil)
}

func cachedProxy(c *Comm, name string) bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	_, ok := c.proxies[name]
	return ok
}

func Test030_get_proxy_unknown_peer(t *testing.T) {

	cv.Convey("an unknown peer gives a nil proxy and nothing is cached for it", t, func() {
		tr := newFakeTransport(map[string][]string{"roof": {"IRoof", "IMotion", "IReady", "Interface"}})
		c := newTestComm("task", tr)
		ctx := context.Background()
		cv.So(c.Open(ctx), cv.ShouldBeNil)
		defer c.Close()

		p, err := c.GetProxy(ctx, "dome")
		cv.So(err, cv.ShouldBeNil)
		cv.So(p, cv.ShouldBeNil)
		cv.So(cachedProxy(c, "dome"), cv.ShouldBeFalse)

		// asked again, the transport is asked again
		c.GetProxy(ctx, "dome")
		cv.So(tr.lookupCount("dome"), cv.ShouldEqual, 2)

		p, err = c.GetProxy(ctx, "roof")
		cv.So(err, cv.ShouldBeNil)
		cv.So(p, cv.ShouldNotBeNil)
		cv.So(p.Interfaces(), cv.ShouldResemble, []*iface.Interface{iface.IRoof})
		cv.So(cachedProxy(c, "roof"), cv.ShouldBeTrue)
		c.GetProxy(ctx, "roof")
		cv.So(tr.lookupCount("roof"), cv.ShouldEqual, 1)

		// "" is nobody; "main" is us, and we serve no module
		p, err = c.GetProxy(ctx, "")
		cv.So(err, cv.ShouldBeNil)
		cv.So(p, cv.ShouldBeNil)
		p, _ = c.GetProxy(ctx, "main")
		cv.So(p, cv.ShouldBeNil)
	})

	cv.Convey("main is the local module once one is set", t, func() {
		c := newTestComm("camera", newFakeTransport(nil))
		m, err := NewModule("camera", iface.Default, iface.ICamera)
		cv.So(err, cv.ShouldBeNil)
		c.SetModule(m)
		p, err := c.GetProxy(context.Background(), "main")
		cv.So(err, cv.ShouldBeNil)
		cv.So(p, cv.ShouldEqual, m)
	})
}

func Test031_module_closed_evicts_proxy(t *testing.T) {

	cv.Convey("a ModuleClosedEvent drops the cached proxy so the next lookup re-resolves", t, func() {
		tr := newFakeTransport(map[string][]string{"roof": {"IRoof"}})
		c := newTestComm("task", tr)
		ctx := context.Background()
		cv.So(c.Open(ctx), cv.ShouldBeNil)
		defer c.Close()

		p, _ := c.GetProxy(ctx, "roof")
		cv.So(p, cv.ShouldNotBeNil)
		cv.So(cachedProxy(c, "roof"), cv.ShouldBeTrue)

		tr.removePeer("roof")
		c.PeerDisconnected("roof")
		cv.So(cachedProxy(c, "roof"), cv.ShouldBeFalse)

		p, err := c.GetProxy(ctx, "roof")
		cv.So(err, cv.ShouldBeNil)
		cv.So(p, cv.ShouldBeNil)
		cv.So(tr.lookupCount("roof"), cv.ShouldEqual, 2)
	})
}

func Test032_proxy_validation(t *testing.T) {

	cv.Convey("Proxy accepts names and live callers, and checks the interface", t, func() {
		tr := newFakeTransport(map[string][]string{"roof": {"IRoof"}, "camera": {"ICamera"}})
		c := newTestComm("task", tr)
		ctx := context.Background()

		cl, err := c.Proxy(ctx, "roof", iface.IMotion)
		cv.So(err, cv.ShouldBeNil)
		cv.So(cl.Name(), cv.ShouldEqual, "roof")

		_, err = c.Proxy(ctx, "camera", iface.IMotion)
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		_, err = c.Proxy(ctx, "nobody", nil)
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		_, err = c.Proxy(ctx, nil, nil)
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		_, err = c.Proxy(ctx, 17, nil)
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		same, err := c.Proxy(ctx, cl, iface.IRoof)
		cv.So(err, cv.ShouldBeNil)
		cv.So(same, cv.ShouldEqual, cl)

		var nilProxy *Proxy
		_, err = c.Proxy(ctx, nilProxy, nil)
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		cv.So(c.SafeProxy(ctx, "camera", iface.IRoof), cv.ShouldBeNil)
		cv.So(c.SafeProxy(ctx, "camera", iface.ICamera), cv.ShouldNotBeNil)

		cv.So(c.ClientsWithInterface(ctx, iface.IMotion), cv.ShouldResemble, []string{"roof"})
		cv.So(c.ClientsWithInterface(ctx, iface.IAbortable), cv.ShouldResemble, []string{"camera"})
	})
}

func Test033_register_event(t *testing.T) {

	cv.Convey("a handler for a base type sees derived types, and keys make registration idempotent", t, func() {
		tr := newFakeTransport(nil)
		c := newTestComm("task", tr)
		ctx := context.Background()

		var mut sync.Mutex
		var seen []string
		h := func(ctx context.Context, ev *Event) error {
			mut.Lock()
			seen = append(seen, ev.Type)
			mut.Unlock()
			return nil
		}
		cv.So(c.RegisterEvent(ctx, WeatherEvent, "weather", h), cv.ShouldBeNil)
		cv.So(c.RegisterEvent(ctx, WeatherEvent, "weather", h), cv.ShouldBeNil)
		cv.So(c.RegisterEvent(ctx, nil, "", h), cv.ShouldNotBeNil)

		// nothing reaches the transport before Open
		cv.So(len(tr.registered), cv.ShouldEqual, 0)
		cv.So(c.Open(ctx), cv.ShouldBeNil)
		defer c.Close()
		cv.So(tr.registered["WeatherEvent"], cv.ShouldBeTrue)
		cv.So(tr.registered["BadWeatherEvent"], cv.ShouldBeTrue)
		cv.So(tr.registered["GoodWeatherEvent"], cv.ShouldBeTrue)

		// local types never go to the transport
		_, has := tr.registered["ModuleClosedEvent"]
		cv.So(has, cv.ShouldBeFalse)

		c.DeliverEvent(NewEvent(BadWeatherEvent.Name, nil))
		c.DeliverEvent(NewEvent(RoofOpenedEvent.Name, nil))
		cv.So(seen, cv.ShouldResemble, []string{"BadWeatherEvent"})

		// advertising only, after Open
		cv.So(c.RegisterEvent(ctx, RoofOpenedEvent, "", nil), cv.ShouldBeNil)
		sub, has := tr.registered["RoofOpenedEvent"]
		cv.So(has, cv.ShouldBeTrue)
		cv.So(sub, cv.ShouldBeFalse)
	})
}

func Test034_send_event(t *testing.T) {

	cv.Convey("SendEvent stamps the sender; local events stay in process", t, func() {
		tr := newFakeTransport(nil)
		c := newTestComm("roof", tr)
		ctx := context.Background()
		cv.So(c.Open(ctx), cv.ShouldBeNil)

		ev := &Event{Type: RoofOpenedEvent.Name}
		cv.So(c.SendEvent(ctx, ev), cv.ShouldBeNil)
		sent := tr.sentOf("RoofOpenedEvent")
		cv.So(len(sent), cv.ShouldEqual, 1)
		cv.So(sent[0].Sender, cv.ShouldEqual, "roof")
		cv.So(sent[0].UUID, cv.ShouldNotEqual, "")
		cv.So(sent[0].Age(time.Now()), cv.ShouldBeLessThan, time.Minute)

		got := make(chan string, 1)
		c.RegisterEvent(ctx, ModuleOpenedEvent, "", func(ctx context.Context, ev *Event) error {
			got <- ev.Get("module").(string)
			return nil
		})
		cv.So(c.SendEvent(ctx, NewModuleOpened("dome")), cv.ShouldBeNil)
		cv.So(<-got, cv.ShouldEqual, "dome")
		cv.So(len(tr.sentOf("ModuleOpenedEvent")), cv.ShouldEqual, 0)

		err := c.SendEvent(ctx, NewEvent("NoSuchEvent", nil))
		cv.So(errors.Is(err, ErrValidation), cv.ShouldBeTrue)

		cv.So(c.Close(), cv.ShouldBeNil)
		cv.So(errors.Is(c.SendEvent(ctx, NewEvent(RoofOpenedEvent.Name, nil)), ErrShutdown), cv.ShouldBeTrue)
		_, err = c.Execute(ctx, "dome", "park", nil).Wait(ctx)
		cv.So(errors.Is(err, ErrShutdown), cv.ShouldBeTrue)
	})

	cv.Convey("a failed transport open leaves the comm closed and retryable", t, func() {
		tr := newFakeTransport(nil)
		tr.openErr = errors.New("router unreachable")
		c := newTestComm("roof", tr)
		ctx := context.Background()
		cv.So(c.Open(ctx), cv.ShouldNotBeNil)
		tr.mut.Lock()
		tr.openErr = nil
		tr.mut.Unlock()
		cv.So(c.Open(ctx), cv.ShouldBeNil)
		c.Close()
	})

	cv.Convey("a failed event registration during open closes the transport again", t, func() {
		tr := newFakeTransport(nil)
		c := newTestComm("roof", tr)
		ctx := context.Background()
		cv.So(c.RegisterEvent(ctx, BadWeatherEvent, "w", func(context.Context, *Event) error { return nil }), cv.ShouldBeNil)

		tr.mut.Lock()
		tr.regErr = errors.New("pubsub refused")
		tr.mut.Unlock()
		err := c.Open(ctx)
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(err.Error(), cv.ShouldContainSubstring, "pubsub refused")
		cv.So(tr.isOpened(), cv.ShouldBeFalse)
		c.mut.Lock()
		cv.So(c.isOpen, cv.ShouldBeFalse)
		c.mut.Unlock()

		tr.mut.Lock()
		tr.regErr = nil
		tr.mut.Unlock()
		cv.So(c.Open(ctx), cv.ShouldBeNil)
		cv.So(tr.isOpened(), cv.ShouldBeTrue)
		tr.mut.Lock()
		sub := tr.registered["BadWeatherEvent"]
		tr.mut.Unlock()
		cv.So(sub, cv.ShouldBeTrue)
		c.Close()
	})
}

func Test035_shared_resolution_survives_a_cancelled_caller(t *testing.T) {

	cv.Convey("one caller giving up does not fail the others waiting on the same peer", t, func() {
		tr := newFakeTransport(map[string][]string{"dome": {"IDome"}})
		hold := make(chan struct{})
		tr.hold = hold
		c := newTestComm("task", tr)

		actx, cancel := context.WithCancel(context.Background())
		aerr := make(chan error, 1)
		go func() {
			_, err := c.GetProxy(actx, "dome")
			aerr <- err
		}()
		for tr.lookupCount("dome") == 0 {
			time.Sleep(time.Millisecond)
		}

		type answer struct {
			p   Caller
			err error
		}
		b := make(chan answer, 1)
		go func() {
			p, err := c.GetProxy(context.Background(), "dome")
			b <- answer{p, err}
		}()

		cancel()
		cv.So(errors.Is(<-aerr, context.Canceled), cv.ShouldBeTrue)

		close(hold)
		got := <-b
		cv.So(got.err, cv.ShouldBeNil)
		cv.So(got.p, cv.ShouldNotBeNil)
		cv.So(got.p.Implements(iface.IDome), cv.ShouldBeTrue)
		cv.So(tr.lookupCount("dome"), cv.ShouldEqual, 1)
		cv.So(cachedProxy(c, "dome"), cv.ShouldBeTrue)
	})
}
