package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/glycerine/obsrpc"
	"github.com/glycerine/obsrpc/hash"
	"github.com/glycerine/obsrpc/iface"
)

type rosterEntry struct {
	jid string // full
	ver string // caps hash from the latest presence
}

// Transport carries obsrpc calls and events over XMPP stanzas.
type Transport struct {
	cfg  *obsrpc.Config
	dial Dialer
	log  *slog.Logger
	self JID

	mut        sync.Mutex
	st         Stream
	sink       obsrpc.Sink
	rpc        *RPC
	roster     map[string]*rosterEntry // short name
	features   map[string]bool         // event types we deal in
	subscribed map[string]bool         // event nodes
	caps       map[string][]string     // ver -> interface names
	iqWait     map[string]chan *Stanza
	isOpen     bool

	// work serializes event delivery and peer notifications off
	// the read loop, so handlers may make calls of their own.
	work chan func()

	ctx    context.Context
	cancel context.CancelFunc
	halt   *idem.Halter
}

var _ obsrpc.Transport = (*Transport)(nil)

// NewTransport makes an unconnected transport. dial is used on
// Open and again after the stream is lost.
func NewTransport(cfg *obsrpc.Config, dial Dialer) *Transport {
	cfg = cfg.Clone()
	jid := cfg.JID
	if jid == "" {
		jid = Expand(cfg.Name, cfg.Domain, cfg.Resource)
	}
	self, err := ParseJID(jid)
	if err != nil {
		self = JID{User: cfg.Name, Domain: cfg.Domain, Resource: cfg.Resource}
	}
	if self.Resource == "" {
		self.Resource = DefaultResource
	}
	t := &Transport{
		cfg:        cfg,
		dial:       dial,
		log:        slog.New(slog.NewTextHandler(os.Stderr, nil)).With("jid", self.String()),
		self:       self,
		roster:     make(map[string]*rosterEntry),
		features:   make(map[string]bool),
		subscribed: make(map[string]bool),
		caps:       make(map[string][]string),
		iqWait:     make(map[string]chan *Stanza),
		work:       make(chan func(), 4096),
		halt:       idem.NewHalterNamed("xmpp_" + self.String()),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// NewComm is a convenience for the common setup: a Comm over an
// XMPP transport dialing the configured server, or dial if given.
func NewComm(cfg *obsrpc.Config, dial Dialer, reg *iface.Registry) *obsrpc.Comm {
	if dial == nil {
		dial = DialWebsocket(cfg.Server, cfg.DialTimeout)
	}
	return obsrpc.NewComm(cfg, NewTransport(cfg, dial), reg)
}

// JID is our full address once connected.
func (t *Transport) JID() string {
	return t.selfJID().String()
}

func (t *Transport) selfJID() JID {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.self
}

func (t *Transport) Open(ctx context.Context, sink obsrpc.Sink) error {
	t.mut.Lock()
	if t.isOpen {
		t.mut.Unlock()
		return nil
	}
	if t.halt.ReqStop.IsClosed() {
		// reopened after Close
		t.halt = idem.NewHalterNamed("xmpp_" + t.self.String())
		t.ctx, t.cancel = context.WithCancel(context.Background())
	}
	t.sink = sink
	if l := sink.Logger(); l != nil {
		t.log = l.With("jid", t.self.String())
	}
	t.mut.Unlock()

	st, err := t.connect(ctx)
	if err != nil {
		return err
	}
	t.mut.Lock()
	t.st = st
	t.rpc = NewRPC(t.self.String(), t.send, t.cfg.CallTimeout, t.cfg.CallGrace, t.log)
	t.isOpen = true
	t.mut.Unlock()

	go t.dispatch()
	go t.rpc.Run(t.ctx)
	go t.run(st)
	return t.sendPresence()
}

// connect dials and opens a session, returning the stream once
// the router accepted us.
func (t *Transport) connect(ctx context.Context) (Stream, error) {
	st, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	open := &Stanza{
		XMLName:  xml.Name{Space: NSSession, Local: "open"},
		JID:      t.JID(),
		Password: t.cfg.Password,
	}
	if err := st.Send(open); err != nil {
		st.Close()
		return nil, err
	}
	resp, err := st.Recv()
	if err != nil {
		st.Close()
		return nil, err
	}
	if resp.Kind() != "open" || resp.Type != "result" {
		st.Close()
		cond, text := "", ""
		if resp.Error != nil {
			cond, text = resp.Error.Condition(), resp.Error.Text
		}
		if cond == CondNotAuthorized || cond == CondForbidden {
			return nil, fmt.Errorf("session refused: %v: %w", text, obsrpc.ErrAuthorization)
		}
		return nil, fmt.Errorf("session refused: %v %v", cond, text)
	}
	if j, err := ParseJID(resp.JID); err == nil {
		t.mut.Lock()
		t.self = j
		t.mut.Unlock()
	}
	return st, nil
}

func (t *Transport) send(s *Stanza) error {
	t.mut.Lock()
	st := t.st
	t.mut.Unlock()
	if st == nil {
		return fmt.Errorf("not connected: %w", ErrStreamClosed)
	}
	return st.Send(s)
}

// run reads until the stream fails, then reconnects after
// RestartDelay until Close.
func (t *Transport) run(st Stream) {
	for {
		err := t.readLoop(st)
		if t.halt.ReqStop.IsClosed() {
			t.halt.Done.Close()
			return
		}
		t.log.Warn("stream lost, reconnecting", "error", err)
		t.lost(err)
		for {
			select {
			case <-t.halt.ReqStop.Chan:
				t.halt.Done.Close()
				return
			case <-time.After(t.cfg.RestartDelay):
			}
			st2, err := t.connect(t.ctx)
			if err == nil {
				st = st2
				break
			}
			t.log.Warn("reconnect failed", "error", err)
		}
		t.mut.Lock()
		t.st = st
		t.mut.Unlock()
		go t.resume()
	}
}

// lost fails pending calls and forgets every peer.
func (t *Transport) lost(err error) {
	t.rpc.FailAll(fmt.Errorf("stream lost: %w", err))
	t.mut.Lock()
	peers := make([]string, 0, len(t.roster))
	for p := range t.roster {
		peers = append(peers, p)
	}
	t.roster = make(map[string]*rosterEntry)
	for id, ch := range t.iqWait {
		close(ch)
		delete(t.iqWait, id)
	}
	t.mut.Unlock()
	sort.Strings(peers)
	for _, p := range peers {
		t.enqueue(func() { t.sink.PeerDisconnected(p) })
	}
}

// resume restores subscriptions and presence on a new stream.
func (t *Transport) resume() {
	t.mut.Lock()
	nodes := make([]string, 0, len(t.subscribed))
	for n := range t.subscribed {
		nodes = append(nodes, n)
	}
	t.mut.Unlock()
	sort.Strings(nodes)
	for _, n := range nodes {
		if err := t.subscribe(t.ctx, n); err != nil {
			t.log.Warn("resubscribe failed", "node", n, "error", err)
		}
	}
	if err := t.sendPresence(); err != nil {
		t.log.Warn("presence after reconnect failed", "error", err)
	}
}

func (t *Transport) readLoop(st Stream) error {
	for {
		s, err := st.Recv()
		if err != nil {
			return err
		}
		switch s.Kind() {
		case "presence":
			t.onPresence(s)
		case "iq":
			t.onIQ(s)
		case "message":
			if s.Event != nil {
				t.onEvent(s)
			}
		}
	}
}

func (t *Transport) enqueue(f func()) {
	select {
	case t.work <- f:
	case <-t.halt.ReqStop.Chan:
	}
}

func (t *Transport) dispatch() {
	for {
		select {
		case f := <-t.work:
			f()
		case <-t.halt.ReqStop.Chan:
			return
		}
	}
}

func (t *Transport) onIQ(s *Stanza) {
	switch s.Type {
	case "get", "set":
		switch {
		case s.RPC != nil && s.RPC.MethodCall != nil:
			t.rpc.HandleCall(t.ctx, s, t.sink.Module())
		case s.Disco != nil:
			res := s.reply("result")
			res.Disco = &DiscoInfo{Node: s.Disco.Node}
			for _, f := range t.Features() {
				res.Disco.Features = append(res.Disco.Features, Feature{Var: f})
			}
			t.send(res)
		default:
			e := s.reply("error")
			e.Error = NewStanzaError("cancel", CondFeatureNotImplemented, "")
			t.send(e)
		}
	case "result", "error":
		t.mut.Lock()
		ch, waiting := t.iqWait[s.ID]
		delete(t.iqWait, s.ID)
		t.mut.Unlock()
		if waiting {
			ch <- s
			return
		}
		if s.Type == "error" {
			t.rpc.HandleError(s)
		} else {
			t.rpc.HandleResult(s)
		}
	}
}

// query sends an iq and waits for its result or error.
func (t *Transport) query(ctx context.Context, iq *Stanza) (*Stanza, error) {
	iq.ID = obsrpc.NewCallID()
	iq.From = t.JID()
	ch := make(chan *Stanza, 1)
	t.mut.Lock()
	t.iqWait[iq.ID] = ch
	t.mut.Unlock()
	defer func() {
		t.mut.Lock()
		delete(t.iqWait, iq.ID)
		t.mut.Unlock()
	}()
	if err := t.send(iq); err != nil {
		return nil, err
	}
	timer := time.NewTimer(t.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrStreamClosed
		}
		return res, nil
	case <-timer.C:
		return nil, obsrpc.NewRemoteError(obsrpc.KindTimeout, Short(iq.To), "disco", "no answer")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.halt.ReqStop.Chan:
		return nil, obsrpc.ErrShutdown
	}
}

func (t *Transport) onPresence(s *Stanza) {
	if BareOf(s.From) == t.selfJID().Bare() {
		return
	}
	peer := Short(s.From)
	var ver string
	if s.Caps != nil {
		ver = s.Caps.Ver
	}
	t.mut.Lock()
	prior, known := t.roster[peer]
	if s.Type == "unavailable" {
		if !known || prior.jid != s.From {
			t.mut.Unlock()
			return
		}
		delete(t.roster, peer)
		t.mut.Unlock()
		t.enqueue(func() { t.sink.PeerDisconnected(peer) })
		return
	}
	t.roster[peer] = &rosterEntry{jid: s.From, ver: ver}
	t.mut.Unlock()
	if !known {
		t.enqueue(func() { t.sink.PeerConnected(peer) })
	}
}

// Features is what we advertise in disco and hash into our
// presence: our interfaces, with ancestors, and our event types.
func (t *Transport) Features() (fs []string) {
	if m := t.sink.Module(); m != nil {
		for _, n := range m.Advertised() {
			fs = append(fs, InterfacePrefix+n)
		}
	}
	t.mut.Lock()
	for n := range t.features {
		fs = append(fs, EventPrefix+n)
	}
	t.mut.Unlock()
	sort.Strings(fs)
	return
}

func (t *Transport) sendPresence() error {
	p := NewPresence("", t.JID())
	p.Caps = &Caps{
		Hash: hash.CapsHashName,
		Node: "https://github.com/glycerine/obsrpc",
		Ver:  hash.CapsVer(t.Features()),
	}
	return t.send(p)
}

func (t *Transport) Clients() (names []string) {
	t.mut.Lock()
	for n := range t.roster {
		names = append(names, n)
	}
	t.mut.Unlock()
	sort.Strings(names)
	return
}

// GetInterfaces asks peer for its features, unless a peer with
// the same capability hash was asked before.
func (t *Transport) GetInterfaces(ctx context.Context, peer string) ([]string, error) {
	t.mut.Lock()
	e, ok := t.roster[peer]
	var cached []string
	var hit bool
	if ok && e.ver != "" {
		cached, hit = t.caps[e.ver]
	}
	t.mut.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer '%v' is not connected: %w", peer, obsrpc.ErrNotFound)
	}
	if hit {
		capsCacheHits.WithLabelValues("hit").Inc()
		return append([]string(nil), cached...), nil
	}
	capsCacheHits.WithLabelValues("disco").Inc()

	q := NewIQ("get", "", "", e.jid)
	q.Disco = &DiscoInfo{}
	res, err := t.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if res.Type == "error" {
		switch res.Error.Condition() {
		case CondServiceUnavailable, CondItemNotFound, CondRemoteServerNotFound:
			return nil, fmt.Errorf("peer '%v' is gone: %w", peer, obsrpc.ErrNotFound)
		}
		return nil, errorFromStanza(peer, "disco", res.Error)
	}
	var all, names []string
	if res.Disco != nil {
		for _, f := range res.Disco.Features {
			all = append(all, f.Var)
			if n, ok := strings.CutPrefix(f.Var, InterfacePrefix); ok {
				names = append(names, n)
			}
		}
	}
	// only trust the cache with what the hash vouches for.
	if e.ver != "" && hash.CapsVer(all) == e.ver {
		t.mut.Lock()
		t.caps[e.ver] = names
		t.mut.Unlock()
	}
	return names, nil
}

func (t *Transport) Execute(ctx context.Context, peer, method string, op *iface.Operation, args []any) *obsrpc.Future {
	t.mut.Lock()
	r := t.rpc
	to := Expand(peer, t.self.Domain, "")
	if e, ok := t.roster[peer]; ok {
		to = e.jid
	}
	t.mut.Unlock()
	if r == nil {
		return obsrpc.NewFailedFuture(peer, method, fmt.Errorf("transport not open: %w", obsrpc.ErrShutdown))
	}
	f := r.Call(ctx, to, peer, method, args)
	f.SetOperation(op)
	return f
}

func (t *Transport) SendEvent(ctx context.Context, ev *obsrpc.Event) error {
	by, err := obsrpc.MarshalEvent(ev)
	if err != nil {
		return err
	}
	self := t.selfJID()
	iq := NewIQ("set", obsrpc.NewCallID(), self.String(), "pubsub."+self.Domain)
	iq.PubSub = &PubSub{Publish: &Publish{
		Node:  EventPrefix + ev.Type,
		Items: []Item{{ID: ev.UUID, JSON: string(by)}},
	}}
	return t.send(iq)
}

func (t *Transport) RegisterEvent(ctx context.Context, typ *obsrpc.EventType, subscribe bool) error {
	node := EventPrefix + typ.Name
	t.mut.Lock()
	newFeature := !t.features[typ.Name]
	t.features[typ.Name] = true
	needSub := subscribe && !t.subscribed[node]
	if needSub {
		t.subscribed[node] = true
	}
	open := t.isOpen
	t.mut.Unlock()
	if !open {
		return nil
	}
	if needSub {
		if err := t.subscribe(ctx, node); err != nil {
			return err
		}
	}
	if newFeature {
		return t.sendPresence()
	}
	return nil
}

func (t *Transport) subscribe(ctx context.Context, node string) error {
	q := NewIQ("set", "", "", "pubsub."+t.selfJID().Domain)
	q.PubSub = &PubSub{Subscribe: &Subscribe{Node: node, JID: t.JID()}}
	res, err := t.query(ctx, q)
	if err != nil {
		return fmt.Errorf("subscribe %v: %w", node, err)
	}
	if res.Type == "error" {
		return fmt.Errorf("subscribe %v: %w", node, errorFromStanza("pubsub", "subscribe", res.Error))
	}
	return nil
}

// onEvent filters incoming events and queues the rest for
// delivery.
func (t *Transport) onEvent(m *Stanza) {
	items := m.Event.Items
	if items == nil || !IsEventNode(items.Node) {
		return
	}
	if m.Delay != nil {
		eventsDropped.WithLabelValues("delayed").Add(float64(len(items.Item)))
		return
	}
	now := time.Now()
	own := t.selfJID().Bare()
	for _, it := range items.Item {
		if BareOf(it.Publisher) == own {
			eventsDropped.WithLabelValues("self").Inc()
			continue
		}
		ev, _, ok, err := t.sink.Events().DecodeEvent([]byte(it.JSON))
		if err != nil {
			eventsDropped.WithLabelValues("malformed").Inc()
			t.log.Debug("dropping malformed event", "from", it.Publisher, "error", err)
			continue
		}
		if !ok {
			eventsDropped.WithLabelValues("unknown_type").Inc()
			continue
		}
		if ev.Age(now) > t.cfg.EventMaxAge {
			eventsDropped.WithLabelValues("stale").Inc()
			continue
		}
		ev.Sender = Short(it.Publisher)
		t.enqueue(func() { t.sink.DeliverEvent(ev) })
	}
}

func (t *Transport) Close() error {
	t.mut.Lock()
	wasOpen := t.isOpen
	t.isOpen = false
	st := t.st
	r := t.rpc
	t.mut.Unlock()
	if !wasOpen || t.halt.ReqStop.IsClosed() {
		return nil
	}
	t.send(NewPresence("unavailable", t.JID()))
	t.halt.ReqStop.Close()
	t.cancel()
	var err error
	if st != nil {
		err = st.Close()
	}
	if r != nil {
		r.FailAll(obsrpc.ErrShutdown)
	}
	select {
	case <-t.halt.Done.Chan:
	case <-time.After(time.Second):
	}
	if errors.Is(err, ErrStreamClosed) {
		err = nil
	}
	return err
}
