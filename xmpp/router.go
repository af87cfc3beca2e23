package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/glycerine/idem"
	"github.com/gorilla/websocket"
)

// Router is a small stanza switch: it authenticates sessions,
// routes iq and message stanzas by JID, keeps pubsub
// subscriptions and broadcasts presence. It stands in for an
// XMPP server on a LAN, or in tests.
type Router struct {
	domain string
	log    *slog.Logger

	// creds maps bare JIDs to passwords. nil admits anyone
	// claiming a JID in our domain.
	creds map[string]string

	mut      sync.Mutex
	sessions map[string]*session        // full jid
	presence map[string]*Stanza         // full jid -> last available presence
	subs     map[string]map[string]bool // node -> full jids

	Halt *idem.Halter
}

type session struct {
	jid string
	st  Stream
}

// NewRouter serves domain. creds may be nil.
func NewRouter(domain string, creds map[string]string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		domain:   domain,
		log:      log.With("router", domain),
		creds:    creds,
		sessions: make(map[string]*session),
		presence: make(map[string]*Stanza),
		subs:     make(map[string]map[string]bool),
		Halt:     idem.NewHalterNamed("router_" + domain),
	}
}

func (r *Router) Domain() string { return r.domain }

// PubSubJID is the address events are published to.
func (r *Router) PubSubJID() string { return "pubsub." + r.domain }

// Sessions lists the connected full JIDs.
func (r *Router) Sessions() (jids []string) {
	r.mut.Lock()
	for j := range r.sessions {
		jids = append(jids, j)
	}
	r.mut.Unlock()
	sort.Strings(jids)
	return
}

// Dialer returns a Dialer that connects in-process.
func (r *Router) Dialer() Dialer {
	return func(ctx context.Context) (Stream, error) {
		if r.Halt.ReqStop.IsClosed() {
			return nil, ErrStreamClosed
		}
		client, server := Pipe()
		go r.Serve(server)
		return client, nil
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades to a websocket and serves the session.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	r.Serve(NewWebsocketStream(conn))
}

// Close ends every session.
func (r *Router) Close() {
	r.Halt.ReqStop.Close()
	r.mut.Lock()
	all := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mut.Unlock()
	for _, s := range all {
		s.st.Close()
	}
	r.Halt.Done.Close()
}

// Serve runs one session until its stream fails.
func (r *Router) Serve(st Stream) error {
	sess, err := r.open(st)
	if err != nil {
		st.Close()
		return err
	}
	defer r.drop(sess)

	for {
		s, err := st.Recv()
		if err != nil {
			if errors.Is(err, ErrStreamClosed) {
				return nil
			}
			return err
		}
		// never trust the client's idea of who it is.
		s.From = sess.jid
		stanzasRouted.WithLabelValues(s.Kind()).Inc()

		switch s.Kind() {
		case "presence":
			r.onPresence(sess, s)
		case "iq":
			if s.To == r.PubSubJID() && s.PubSub != nil {
				r.onPubSub(sess, s)
				continue
			}
			if s.To == r.domain {
				r.onServerIQ(sess, s)
				continue
			}
			r.route(s)
		case "message":
			r.route(s)
		default:
			vv("router: ignoring <%v> from %v", s.Kind(), sess.jid)
		}
	}
}

func (r *Router) open(st Stream) (*session, error) {
	s, err := st.Recv()
	if err != nil {
		return nil, err
	}
	fail := func(cond, text string) (*session, error) {
		resp := &Stanza{XMLName: xml.Name{Space: NSSession, Local: "open"}, Type: "error",
			Error: NewStanzaError("auth", cond, text)}
		st.Send(resp)
		return nil, fmt.Errorf("session refused: %v", text)
	}
	if s.Kind() != "open" {
		return fail(CondBadRequest, "expected <open>, got <"+s.Kind()+">")
	}
	jid, err := ParseJID(s.JID)
	if err != nil || jid.User == "" {
		return fail(CondBadRequest, fmt.Sprintf("bad jid '%v'", s.JID))
	}
	if jid.Domain != r.domain {
		return fail(CondRemoteServerNotFound, "unknown domain "+jid.Domain)
	}
	if jid.Resource == "" {
		jid.Resource = DefaultResource
	}
	if r.creds != nil {
		if pw, ok := r.creds[jid.Bare()]; !ok || pw != s.Password {
			return fail(CondNotAuthorized, "bad credentials for "+jid.Bare())
		}
	}
	full := jid.String()
	sess := &session{jid: full, st: st}

	r.mut.Lock()
	if _, dup := r.sessions[full]; dup {
		r.mut.Unlock()
		return fail(CondForbidden, full+" is already connected")
	}
	r.sessions[full] = sess
	known := make([]*Stanza, 0, len(r.presence))
	for _, p := range r.presence {
		known = append(known, p)
	}
	r.mut.Unlock()
	routerSessions.Inc()

	ok := &Stanza{XMLName: xml.Name{Space: NSSession, Local: "open"}, Type: "result", JID: full}
	if err := st.Send(ok); err != nil {
		r.drop(sess)
		return nil, err
	}
	sort.Slice(known, func(i, j int) bool { return known[i].From < known[j].From })
	for _, p := range known {
		st.Send(p)
	}
	r.log.Info("session opened", "jid", full)
	return sess, nil
}

func (r *Router) drop(sess *session) {
	r.mut.Lock()
	if r.sessions[sess.jid] != sess {
		r.mut.Unlock()
		return
	}
	delete(r.sessions, sess.jid)
	_, wasAvailable := r.presence[sess.jid]
	delete(r.presence, sess.jid)
	for _, subs := range r.subs {
		delete(subs, sess.jid)
	}
	r.mut.Unlock()
	routerSessions.Dec()
	sess.st.Close()
	r.log.Info("session closed", "jid", sess.jid)
	if wasAvailable {
		r.broadcast(sess.jid, NewPresence("unavailable", sess.jid))
	}
}

func (r *Router) onPresence(sess *session, p *Stanza) {
	r.mut.Lock()
	if p.Type == "unavailable" {
		delete(r.presence, sess.jid)
	} else {
		r.presence[sess.jid] = p
	}
	r.mut.Unlock()
	r.broadcast(sess.jid, p)
}

// broadcast sends s to every session except the one at from.
func (r *Router) broadcast(from string, s *Stanza) {
	r.mut.Lock()
	var to []*session
	for j, x := range r.sessions {
		if j != from {
			to = append(to, x)
		}
	}
	r.mut.Unlock()
	for _, x := range to {
		if err := x.st.Send(s); err != nil {
			vv("router: presence to %v failed: %v", x.jid, err)
		}
	}
}

// lookup finds the session for a full JID, or for a bare one
// the first session of that account.
func (r *Router) lookup(to string) *session {
	r.mut.Lock()
	defer r.mut.Unlock()
	if s, ok := r.sessions[to]; ok {
		return s
	}
	bare := BareOf(to)
	var best *session
	for j, s := range r.sessions {
		if BareOf(j) == bare && (best == nil || j < best.jid) {
			best = s
		}
	}
	return best
}

func (r *Router) route(s *Stanza) {
	dest := r.lookup(s.To)
	if dest == nil {
		if s.Kind() == "iq" && (s.Type == "get" || s.Type == "set") {
			r.bounce(s, CondServiceUnavailable, s.To+" is not connected")
		}
		return
	}
	if err := dest.st.Send(s); err != nil && s.Kind() == "iq" && (s.Type == "get" || s.Type == "set") {
		r.bounce(s, CondRemoteServerNotFound, err.Error())
	}
}

// bounce answers an undeliverable request with an error.
func (r *Router) bounce(s *Stanza, cond, text string) {
	src := r.lookup(s.From)
	if src == nil {
		return
	}
	e := NewIQ("error", s.ID, s.To, s.From)
	e.Error = NewStanzaError("cancel", cond, text)
	src.st.Send(e)
}

// onServerIQ answers disco queries addressed to the router.
func (r *Router) onServerIQ(sess *session, s *Stanza) {
	if s.Disco != nil && s.Type == "get" {
		res := s.reply("result")
		res.Disco = &DiscoInfo{Features: []Feature{{Var: NSDiscoInfo}, {Var: NSPubSub}}}
		sess.st.Send(res)
		return
	}
	if s.Type == "get" || s.Type == "set" {
		e := s.reply("error")
		e.Error = NewStanzaError("cancel", CondFeatureNotImplemented, "")
		sess.st.Send(e)
	}
}

func (r *Router) onPubSub(sess *session, s *Stanza) {
	ps := s.PubSub
	switch {
	case ps.Subscribe != nil:
		node := ps.Subscribe.Node
		r.mut.Lock()
		if r.subs[node] == nil {
			r.subs[node] = make(map[string]bool)
		}
		r.subs[node][sess.jid] = true
		r.mut.Unlock()
	case ps.Unsubscribe != nil:
		r.mut.Lock()
		delete(r.subs[ps.Unsubscribe.Node], sess.jid)
		r.mut.Unlock()
	case ps.Publish != nil:
		r.publish(sess, ps.Publish)
	default:
		e := s.reply("error")
		e.Error = NewStanzaError("modify", CondBadRequest, "empty pubsub request")
		sess.st.Send(e)
		return
	}
	if s.Type == "set" || s.Type == "get" {
		sess.st.Send(s.reply("result"))
	}
}

// publish fans items out to every subscriber of the node,
// the publisher included when subscribed.
func (r *Router) publish(sess *session, pub *Publish) {
	r.mut.Lock()
	var to []*session
	for j := range r.subs[pub.Node] {
		if x, ok := r.sessions[j]; ok {
			to = append(to, x)
		}
	}
	r.mut.Unlock()

	items := make([]Item, len(pub.Items))
	for i, it := range pub.Items {
		it.Publisher = sess.jid
		items[i] = it
	}
	for _, x := range to {
		m := NewMessage(r.PubSubJID(), x.jid)
		m.Event = &PubSubEvent{Items: &Items{Node: pub.Node, Item: items}}
		if err := x.st.Send(m); err != nil {
			vv("router: event to %v failed: %v", x.jid, err)
		}
	}
}

// IsEventNode reports whether node carries obsrpc events.
func IsEventNode(node string) bool {
	return strings.HasPrefix(node, EventPrefix)
}
