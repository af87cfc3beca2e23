package xmpp

import (
	"encoding/xml"
	"fmt"
)

// Namespaces of the stanza payloads we understand.
const (
	NSRPC         = "jabber:iq:rpc"
	NSDiscoInfo   = "http://jabber.org/protocol/disco#info"
	NSPubSub      = "http://jabber.org/protocol/pubsub"
	NSPubSubEvent = "http://jabber.org/protocol/pubsub#event"
	NSCaps        = "http://jabber.org/protocol/caps"
	NSDelay       = "urn:xmpp:delay"
	NSJSON        = "urn:xmpp:json:0"
	NSStanzas     = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSSession     = "obsrpc:session"
)

// Capability feature prefixes.
const (
	InterfacePrefix = "pyobs:interface:"
	EventPrefix     = "pyobs:event:"
)

// Stanza covers the iq, message, presence and session-open
// elements exchanged with the router. Only the payload
// fields relevant to the element are set.
type Stanza struct {
	XMLName xml.Name
	ID      string `xml:"id,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	From    string `xml:"from,attr,omitempty"`
	To      string `xml:"to,attr,omitempty"`

	// session open
	JID      string `xml:"jid,attr,omitempty"`
	Password string `xml:"password,attr,omitempty"`

	// iq payloads
	RPC    *RPCQuery    `xml:"jabber:iq:rpc query,omitempty"`
	Disco  *DiscoInfo   `xml:"http://jabber.org/protocol/disco#info query,omitempty"`
	PubSub *PubSub      `xml:"http://jabber.org/protocol/pubsub pubsub,omitempty"`
	Error  *StanzaError `xml:"error,omitempty"`

	// message payloads
	Event *PubSubEvent `xml:"http://jabber.org/protocol/pubsub#event event,omitempty"`
	Delay *Delay       `xml:"urn:xmpp:delay delay,omitempty"`

	// presence payload
	Caps *Caps `xml:"http://jabber.org/protocol/caps c,omitempty"`
}

func (s *Stanza) Kind() string { return s.XMLName.Local }

func (s *Stanza) String() string {
	return fmt.Sprintf("<%v id=%v type=%v from=%v to=%v>", s.XMLName.Local, s.ID, s.Type, s.From, s.To)
}

func NewIQ(typ, id, from, to string) *Stanza {
	return &Stanza{XMLName: xml.Name{Local: "iq"}, Type: typ, ID: id, From: from, To: to}
}

func NewMessage(from, to string) *Stanza {
	return &Stanza{XMLName: xml.Name{Local: "message"}, From: from, To: to}
}

func NewPresence(typ, from string) *Stanza {
	return &Stanza{XMLName: xml.Name{Local: "presence"}, Type: typ, From: from}
}

// reply addresses an iq response back to the sender of s.
func (s *Stanza) reply(typ string) *Stanza {
	return NewIQ(typ, s.ID, s.To, s.From)
}

// RPCQuery is the XEP-0009 payload, extended by methodTimeout.
type RPCQuery struct {
	MethodCall     *MethodCall     `xml:"methodCall,omitempty"`
	MethodResponse *MethodResponse `xml:"methodResponse,omitempty"`
	MethodTimeout  *MethodTimeout  `xml:"methodTimeout,omitempty"`
}

type MethodCall struct {
	MethodName string  `xml:"methodName"`
	Params     *Params `xml:"params"`
}

// MethodResponse carries either params (zero or one) or a fault.
type MethodResponse struct {
	Params *Params `xml:"params,omitempty"`
	Fault  *Fault  `xml:"fault,omitempty"`
}

// MethodTimeout tells the caller, in whole seconds, how long
// the callee expects the call to take.
type MethodTimeout struct {
	Timeout int `xml:"timeout,attr"`
}

type Params struct {
	Param []Param `xml:"param"`
}

type Param struct {
	Value Value `xml:"value"`
}

type Fault struct {
	Value Value `xml:"value"`
}

// StanzaError is an XMPP error element. Conditions holds the
// defined-condition child, of which there should be exactly one.
type StanzaError struct {
	Type       string      `xml:"type,attr"`
	Conditions []Condition `xml:",any"`
	Text       string      `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text,omitempty"`
}

type Condition struct {
	XMLName xml.Name
}

// Error conditions we produce or map.
const (
	CondItemNotFound          = "item-not-found"
	CondForbidden             = "forbidden"
	CondUndefined             = "undefined-condition"
	CondServiceUnavailable    = "service-unavailable"
	CondRemoteServerNotFound  = "remote-server-not-found"
	CondNotAuthorized         = "not-authorized"
	CondBadRequest            = "bad-request"
	CondFeatureNotImplemented = "feature-not-implemented"
)

func NewStanzaError(typ, cond, text string) *StanzaError {
	return &StanzaError{
		Type:       typ,
		Conditions: []Condition{{XMLName: xml.Name{Space: NSStanzas, Local: cond}}},
		Text:       text,
	}
}

// Condition returns the defined condition name, or "".
func (e *StanzaError) Condition() string {
	for _, c := range e.Conditions {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return ""
}

// DiscoInfo is a disco#info query or result.
type DiscoInfo struct {
	Node     string    `xml:"node,attr,omitempty"`
	Features []Feature `xml:"feature"`
}

type Feature struct {
	Var string `xml:"var,attr"`
}

type PubSub struct {
	Subscribe   *Subscribe `xml:"subscribe,omitempty"`
	Unsubscribe *Subscribe `xml:"unsubscribe,omitempty"`
	Publish     *Publish   `xml:"publish,omitempty"`
}

type Subscribe struct {
	Node string `xml:"node,attr"`
	JID  string `xml:"jid,attr"`
}

type Publish struct {
	Node  string `xml:"node,attr"`
	Items []Item `xml:"item"`
}

// Item carries one event as a JSON payload.
type Item struct {
	ID        string `xml:"id,attr,omitempty"`
	Publisher string `xml:"publisher,attr,omitempty"`
	JSON      string `xml:"urn:xmpp:json:0 json"`
}

type PubSubEvent struct {
	Items *Items `xml:"items"`
}

type Items struct {
	Node string `xml:"node,attr"`
	Item []Item `xml:"item"`
}

// Delay marks a message as delivered late, e.g. from offline
// storage after a reconnect.
type Delay struct {
	From  string `xml:"from,attr,omitempty"`
	Stamp string `xml:"stamp,attr"`
}

// Caps is the entity capabilities element of a presence.
type Caps struct {
	Hash string `xml:"hash,attr"`
	Node string `xml:"node,attr"`
	Ver  string `xml:"ver,attr"`
}

// Encode marshals s to bytes.
func Encode(s *Stanza) ([]byte, error) {
	return xml.Marshal(s)
}

// Decode parses one stanza.
func Decode(by []byte) (*Stanza, error) {
	s := &Stanza{}
	if err := xml.Unmarshal(by, s); err != nil {
		return nil, fmt.Errorf("bad stanza: %w", err)
	}
	return s, nil
}
