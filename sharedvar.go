package obsrpc

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/glycerine/obsrpc/iface"
)

// EventBus is the slice of Comm the variable cache needs.
type EventBus interface {
	Name() string
	SendEvent(ctx context.Context, ev *Event) error
	RegisterEvent(ctx context.Context, typ *EventType, key string, h EventHandler) error
}

// SharedVariable is a snapshot of one cache entry.
type SharedVariable struct {
	Name  string
	Value any

	// Source is "" when the value was written locally,
	// otherwise the peer that wrote it.
	Source  string
	Updated time.Time
}

// VarCallback sees every change of a variable, local or remote.
type VarCallback func(name string, value any, source string)

type sharedVar struct {
	SharedVariable
	set       bool
	callbacks []VarCallback
}

// SharedVariableCache replicates named values between peers.
//
// A local Set broadcasts a VariableChangedEvent when the value
// changed. Values received from peers are stored with their
// source and never re-broadcast, so two peers mirroring the same
// name do not echo. Every interval the locally written values
// are pushed again as one VariablesUpdateEvent, so late joiners
// and peers that missed an update converge.
type SharedVariableCache struct {
	bus      EventBus
	log      *slog.Logger
	interval time.Duration

	mut  sync.Mutex
	vars *Omap[string, *sharedVar]

	halt   *idem.Halter
	opened bool
}

func NewSharedVariableCache(bus EventBus, interval time.Duration, log *slog.Logger) *SharedVariableCache {
	if log == nil {
		log = slog.Default()
	}
	return &SharedVariableCache{
		bus:      bus,
		log:      log,
		interval: interval,
		vars:     NewOmap[string, *sharedVar](),
		halt:     idem.NewHalterNamed("shared_variables"),
	}
}

// caller holds c.mut.
func (c *SharedVariableCache) entry(name string) *sharedVar {
	sv, ok := c.vars.Get2(name)
	if !ok {
		sv = &sharedVar{SharedVariable: SharedVariable{Name: name}}
		c.vars.Set(name, sv)
	}
	return sv
}

// Get returns the current value of name, nil if never set.
func (c *SharedVariableCache) Get(name string) any {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.entry(name).Value
}

// Lookup returns a snapshot of name; ok is false if it was
// never written.
func (c *SharedVariableCache) Lookup(name string) (v SharedVariable, ok bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	sv, found := c.vars.Get2(name)
	if !found || !sv.set {
		return
	}
	return sv.SharedVariable, true
}

func (c *SharedVariableCache) Source(name string) string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.entry(name).Source
}

// Keys lists the names that hold a value, sorted.
func (c *SharedVariableCache) Keys() (keys []string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	for k, sv := range c.vars.All() {
		if sv.set {
			keys = append(keys, k)
		}
	}
	return
}

// OnChange registers cb for name.
func (c *SharedVariableCache) OnChange(name string, cb VarCallback) {
	c.mut.Lock()
	defer c.mut.Unlock()
	sv := c.entry(name)
	sv.callbacks = append(sv.callbacks, cb)
}

// Set writes name locally. Overwriting a value that came from
// a peer is allowed: the last writer wins.
func (c *SharedVariableCache) Set(ctx context.Context, name string, value any) error {
	c.mut.Lock()
	sv := c.entry(name)
	if sv.Source != "" {
		c.log.Warn("overwriting shared variable owned by another module",
			"variable", name, "owner", sv.Source)
	}
	changed := !sv.set || !reflect.DeepEqual(sv.Value, value)
	sv.Value = value
	sv.Source = ""
	sv.Updated = time.Now()
	sv.set = true
	cbs := append([]VarCallback(nil), sv.callbacks...)
	c.mut.Unlock()

	if !changed {
		return nil
	}
	for _, cb := range cbs {
		cb(name, value, "")
	}
	variableBroadcasts.WithLabelValues("single").Inc()
	ev := NewEvent(VariableChangedEvent.Name, map[string]any{
		"name":  name,
		"value": ToWire(value, iface.Any),
	})
	if err := c.bus.SendEvent(ctx, ev); err != nil {
		return fmt.Errorf("broadcasting variable '%v': %w", name, err)
	}
	return nil
}

// apply stores a value received from source without
// broadcasting it.
func (c *SharedVariableCache) apply(name string, value any, source string) {
	c.mut.Lock()
	sv := c.entry(name)
	changed := !sv.set || !reflect.DeepEqual(sv.Value, value)
	sv.Value = value
	sv.Source = source
	sv.Updated = time.Now()
	sv.set = true
	cbs := append([]VarCallback(nil), sv.callbacks...)
	c.mut.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(name, value, source)
		}
	}
}

func (c *SharedVariableCache) onVariableChanged(ctx context.Context, ev *Event) error {
	if ev.Sender == c.bus.Name() {
		return nil
	}
	name, ok := ev.Get("name").(string)
	if !ok || name == "" {
		return fmt.Errorf("VariableChangedEvent from %v without a name", ev.Sender)
	}
	c.apply(name, ev.Get("value"), ev.Sender)
	return nil
}

func (c *SharedVariableCache) onVariablesUpdate(ctx context.Context, ev *Event) error {
	if ev.Sender == c.bus.Name() {
		return nil
	}
	vars, ok := ev.Get("variables").(map[string]any)
	if !ok {
		return fmt.Errorf("VariablesUpdateEvent from %v without variables", ev.Sender)
	}
	for name, v := range vars {
		c.apply(name, v, ev.Sender)
	}
	return nil
}

// Subscribe registers for the variable events.
func (c *SharedVariableCache) Subscribe(ctx context.Context) error {
	if err := c.bus.RegisterEvent(ctx, VariableChangedEvent, "sharedvar.changed", c.onVariableChanged); err != nil {
		return err
	}
	return c.bus.RegisterEvent(ctx, VariablesUpdateEvent, "sharedvar.update", c.onVariablesUpdate)
}

// Broadcast sends every locally written variable in a single
// VariablesUpdateEvent. Nothing is sent when there are none.
func (c *SharedVariableCache) Broadcast(ctx context.Context) error {
	c.mut.Lock()
	local := make(map[string]any)
	for name, sv := range c.vars.All() {
		if sv.set && sv.Source == "" {
			local[name] = ToWire(sv.Value, iface.Any)
		}
	}
	c.mut.Unlock()
	if len(local) == 0 {
		return nil
	}
	variableBroadcasts.WithLabelValues("bulk").Inc()
	return c.bus.SendEvent(ctx, NewEvent(VariablesUpdateEvent.Name, map[string]any{"variables": local}))
}

// Run is the replication loop. It returns when ctx is done
// or Close is called.
func (c *SharedVariableCache) Run(ctx context.Context) error {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if err := c.Broadcast(ctx); err != nil {
				c.log.Warn("variable replication failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		case <-c.halt.ReqStop.Chan:
			return nil
		}
	}
}

// Open subscribes and starts the replication loop in the
// background, for use without a Supervisor.
func (c *SharedVariableCache) Open(ctx context.Context) error {
	if err := c.Subscribe(ctx); err != nil {
		return err
	}
	c.mut.Lock()
	c.opened = true
	c.mut.Unlock()
	go func() {
		defer c.halt.Done.Close()
		c.Run(ctx)
	}()
	return nil
}

// Close stops the replication loop and, if Open started it,
// waits for it to finish.
func (c *SharedVariableCache) Close() {
	c.halt.ReqStop.Close()
	c.mut.Lock()
	opened := c.opened
	c.mut.Unlock()
	if opened {
		<-c.halt.Done.Chan
	}
}
