package obsrpc

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is what travels between modules. Data carries the
// type-specific payload as a JSON object.
type Event struct {
	Type      string         `json:"type"`
	Timestamp float64        `json:"timestamp"`
	UUID      string         `json:"uuid"`
	Data      map[string]any `json:"data"`

	// Sender is filled in on receipt from the transport address;
	// it is never serialized.
	Sender string `json:"-"`
}

// NewEvent stamps a fresh event of the named type.
func NewEvent(typ string, data map[string]any) *Event {
	return &Event{
		Type:      typ,
		Timestamp: unixFloat(time.Now()),
		UUID:      uuid.NewString(),
		Data:      data,
	}
}

func unixFloat(tm time.Time) float64 {
	return float64(tm.UnixNano()) / 1e9
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Age is how long ago, relative to now, the event was stamped.
func (e *Event) Age(now time.Time) time.Duration {
	return now.Sub(e.Time())
}

// Get returns a field of Data.
func (e *Event) Get(key string) any {
	if e.Data == nil {
		return nil
	}
	return e.Data[key]
}

func (e *Event) String() string {
	return fmt.Sprintf("%v{from:%v uuid:%v data:%v}", e.Type, e.Sender, e.UUID, e.Data)
}

// MarshalEvent produces the JSON envelope.
func MarshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// EventType is a catalog entry. Handlers registered for a type
// also receive every type derived from it.
type EventType struct {
	Name   string
	Parent *EventType

	// Local events never leave the process.
	Local bool
}

// EventRegistry is the catalog of known event types.
type EventRegistry struct {
	mut    sync.RWMutex
	byName map[string]*EventType
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{byName: make(map[string]*EventType)}
}

// Define adds a type. The parent must already be defined.
func (r *EventRegistry) Define(name string, parent *EventType, local bool) *EventType {
	r.mut.Lock()
	defer r.mut.Unlock()
	if t, ok := r.byName[name]; ok {
		return t
	}
	t := &EventType{Name: name, Parent: parent, Local: local}
	r.byName[name] = t
	return t
}

// Lookup returns the type named name, or nil.
func (r *EventRegistry) Lookup(name string) *EventType {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.byName[name]
}

// IsA reports whether t is base or derived from it.
func (t *EventType) IsA(base *EventType) bool {
	for x := t; x != nil; x = x.Parent {
		if x == base {
			return true
		}
	}
	return false
}

// Derived returns base and every type derived from it, sorted by name.
func (r *EventRegistry) Derived(base *EventType) (ts []*EventType) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	for _, t := range r.byName {
		if t.IsA(base) {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
	return
}

// DecodeEvent parses a JSON envelope. ok is false, with a nil
// error, when the type is not in the catalog: such events are
// dropped quietly by the receiver.
func (r *EventRegistry) DecodeEvent(payload []byte) (ev *Event, typ *EventType, ok bool, err error) {
	ev = &Event{}
	if err = json.Unmarshal(payload, ev); err != nil {
		return nil, nil, false, fmt.Errorf("bad event envelope: %w", err)
	}
	typ = r.Lookup(ev.Type)
	if typ == nil {
		return nil, nil, false, nil
	}
	return ev, typ, true, nil
}

// The built-in catalog.
var Events = NewEventRegistry()

var (
	EventBase = Events.Define("Event", nil, false)

	LogEvent = Events.Define("LogEvent", EventBase, false)

	ModuleOpenedEvent = Events.Define("ModuleOpenedEvent", EventBase, true)
	ModuleClosedEvent = Events.Define("ModuleClosedEvent", EventBase, true)

	VariableChangedEvent = Events.Define("VariableChangedEvent", EventBase, false)
	VariablesUpdateEvent = Events.Define("VariablesUpdateEvent", EventBase, false)

	NewImageEvent    = Events.Define("NewImageEvent", EventBase, false)
	NewSpectrumEvent = Events.Define("NewSpectrumEvent", EventBase, false)

	ExposureStatusChangedEvent = Events.Define("ExposureStatusChangedEvent", EventBase, false)
	MotionStatusChangedEvent   = Events.Define("MotionStatusChangedEvent", EventBase, false)

	MoveEvent       = Events.Define("MoveEvent", EventBase, false)
	MoveAltAzEvent  = Events.Define("MoveAltAzEvent", MoveEvent, false)
	MoveRaDecEvent  = Events.Define("MoveRaDecEvent", MoveEvent, false)
	OffsetsEvent    = Events.Define("OffsetsEvent", EventBase, false)
	OffsetsAltAzEvt = Events.Define("OffsetsAltAzEvent", OffsetsEvent, false)
	OffsetsRaDecEvt = Events.Define("OffsetsRaDecEvent", OffsetsEvent, false)

	FilterChangedEvent = Events.Define("FilterChangedEvent", EventBase, false)
	FocusFoundEvent    = Events.Define("FocusFoundEvent", EventBase, false)
	ModeChangedEvent   = Events.Define("ModeChangedEvent", EventBase, false)
	InitializedEvent   = Events.Define("InitializedEvent", EventBase, false)

	WeatherEvent     = Events.Define("WeatherEvent", EventBase, false)
	GoodWeatherEvent = Events.Define("GoodWeatherEvent", WeatherEvent, false)
	BadWeatherEvent  = Events.Define("BadWeatherEvent", WeatherEvent, false)

	RoofOpenedEvent  = Events.Define("RoofOpenedEvent", EventBase, false)
	RoofClosingEvent = Events.Define("RoofClosingEvent", EventBase, false)

	TaskStartedEvent  = Events.Define("TaskStartedEvent", EventBase, false)
	TaskFinishedEvent = Events.Define("TaskFinishedEvent", EventBase, false)
)

// NewLogEntryEvent wraps a forwarded log record.
func NewLogEntryEvent(entry LogEntry) *Event {
	return NewEvent(LogEvent.Name, map[string]any{
		"time":     unixFloat(entry.Time),
		"level":    entry.Level,
		"filename": entry.File,
		"function": entry.Function,
		"line":     entry.Line,
		"message":  entry.Message,
	})
}

// NewModuleClosed is emitted locally when a peer goes away.
func NewModuleClosed(module string) *Event {
	ev := NewEvent(ModuleClosedEvent.Name, map[string]any{"module": module})
	ev.Sender = module
	return ev
}

// NewModuleOpened is emitted locally when a peer appears.
func NewModuleOpened(module string) *Event {
	ev := NewEvent(ModuleOpenedEvent.Name, map[string]any{"module": module})
	ev.Sender = module
	return ev
}
