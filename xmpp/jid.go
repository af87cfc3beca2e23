package xmpp

import (
	"fmt"
	"strings"
)

// DefaultResource is used when a JID is built from a bare
// module name.
const DefaultResource = "pyobs"

// JID is an XMPP address, user@domain/resource.
type JID struct {
	User     string
	Domain   string
	Resource string
}

// ParseJID splits s. The domain is required; user and resource
// are optional.
func ParseJID(s string) (j JID, err error) {
	rest := s
	if i := strings.Index(rest, "/"); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.Index(rest, "@"); i >= 0 {
		j.User = rest[:i]
		rest = rest[i+1:]
	}
	j.Domain = rest
	if j.Domain == "" {
		return JID{}, fmt.Errorf("bad jid '%v': no domain", s)
	}
	return
}

// Bare drops the resource.
func (j JID) Bare() string {
	if j.User == "" {
		return j.Domain
	}
	return j.User + "@" + j.Domain
}

func (j JID) String() string {
	if j.Resource == "" {
		return j.Bare()
	}
	return j.Bare() + "/" + j.Resource
}

func (j JID) IsZero() bool {
	return j.Domain == ""
}

// Expand turns a module name into a full JID. Names that
// already contain an '@' are taken as JIDs; a missing resource
// is filled in.
func Expand(name, domain, resource string) string {
	if resource == "" {
		resource = DefaultResource
	}
	if strings.Contains(name, "@") {
		if strings.Contains(name, "/") {
			return name
		}
		return name + "/" + resource
	}
	return name + "@" + domain + "/" + resource
}

// Short returns the module name part of a JID string.
func Short(jid string) string {
	j, err := ParseJID(jid)
	if err != nil || j.User == "" {
		return jid
	}
	return j.User
}

// BareOf returns the bare form of a JID string, or s if it
// does not parse.
func BareOf(s string) string {
	j, err := ParseJID(s)
	if err != nil {
		return s
	}
	return j.Bare()
}
