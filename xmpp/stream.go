package xmpp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

// ErrStreamClosed is returned by a Stream after Close, or once
// the other end has gone away.
var ErrStreamClosed = errors.New("xmpp stream closed")

// Stream carries whole stanzas, one per frame.
type Stream interface {
	Send(st *Stanza) error
	Recv() (*Stanza, error)
	Close() error
}

// Dialer opens a fresh stream to the router.
type Dialer func(ctx context.Context) (Stream, error)

// pipeEnd is one side of an in-process stream. Stanzas are
// encoded on Send and decoded on Recv, so both ends see exactly
// what a network peer would.
type pipeEnd struct {
	in     chan []byte
	out    chan []byte
	closed *idem.IdemCloseChan
}

// Pipe returns the two ends of an in-process stream.
func Pipe() (a, b Stream) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	closed := idem.NewIdemCloseChan()
	return &pipeEnd{in: ba, out: ab, closed: closed},
		&pipeEnd{in: ab, out: ba, closed: closed}
}

func (p *pipeEnd) Send(st *Stanza) error {
	by, err := Encode(st)
	if err != nil {
		return err
	}
	select {
	case p.out <- by:
		return nil
	case <-p.closed.Chan:
		return ErrStreamClosed
	}
}

func (p *pipeEnd) Recv() (*Stanza, error) {
	select {
	case by := <-p.in:
		return Decode(by)
	case <-p.closed.Chan:
		return nil, ErrStreamClosed
	}
}

func (p *pipeEnd) Close() error {
	p.closed.Close()
	return nil
}

// wsStream frames stanzas as websocket text messages.
type wsStream struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer.
	wmut sync.Mutex
}

// NewWebsocketStream wraps an established connection.
func NewWebsocketStream(conn *websocket.Conn) Stream {
	return &wsStream{conn: conn}
}

func (w *wsStream) Send(st *Stanza) error {
	by, err := Encode(st)
	if err != nil {
		return err
	}
	w.wmut.Lock()
	defer w.wmut.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, by); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	return nil
}

func (w *wsStream) Recv() (*Stanza, error) {
	for {
		typ, by, err := w.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		return Decode(by)
	}
}

func (w *wsStream) Close() error {
	w.wmut.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.wmut.Unlock()
	return w.conn.Close()
}

// DialWebsocket returns a Dialer for a router websocket URL.
// After three consecutive failed dials the breaker opens and
// further attempts fail fast for a while, so a module stuck in
// a reconnect loop does not hammer a router that is down.
func DialWebsocket(url string, timeout time.Duration) Dialer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dial " + url,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	return func(ctx context.Context) (Stream, error) {
		v, err := cb.Execute(func() (interface{}, error) {
			conn, _, err := dialer.DialContext(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		})
		if err != nil {
			return nil, fmt.Errorf("dial %v: %w", url, err)
		}
		return NewWebsocketStream(v.(*websocket.Conn)), nil
	}
}
