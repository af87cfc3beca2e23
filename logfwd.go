package obsrpc

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// LogEntry is a log record on its way to the network.
type LogEntry struct {
	Time     time.Time
	Level    string
	File     string
	Function string
	Line     int
	Message  string
}

// LogMessage queues entry for forwarding as a LogEvent.
// It never blocks; when the queue is full the entry is dropped.
func (c *Comm) LogMessage(entry LogEntry) {
	select {
	case c.logq <- entry:
	default:
		logsDropped.Inc()
	}
}

// runLogForward drains the log queue. When the queue is empty
// it waits a full LogTick before looking again, and LogRate
// caps how fast entries go out.
func (c *Comm) runLogForward(ctx context.Context) error {
	var lim *rate.Limiter
	if c.cfg.LogRate > 0 {
		lim = rate.NewLimiter(rate.Limit(c.cfg.LogRate), int(c.cfg.LogRate)+1)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-c.logq:
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return nil
				}
			}
			// errors here must not be logged through the
			// forwarding handler, or they would loop back.
			if err := c.SendEvent(ctx, NewLogEntryEvent(e)); err != nil {
				c.ilog.Debug("log forward failed", "error", err)
				continue
			}
			logsForwarded.Inc()
		default:
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.LogTick):
			}
		}
	}
}

// ForwardHandler is a slog.Handler that hands records at or
// above its level to Comm.LogMessage.
type ForwardHandler struct {
	comm   *Comm
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

func NewForwardHandler(c *Comm, level slog.Leveler) *ForwardHandler {
	return &ForwardHandler{comm: c, level: level}
}

func (h *ForwardHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ForwardHandler) Handle(_ context.Context, r slog.Record) error {
	e := LogEntry{
		Time:  r.Time,
		Level: r.Level.String(),
	}
	if r.PC != 0 {
		fr, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		e.File = path.Base(fr.File)
		e.Function = fr.Function
		e.Line = fr.Line
	}
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %v%v=%v", h.prefix, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %v%v=%v", h.prefix, a.Key, a.Value)
		return true
	})
	e.Message = b.String()
	h.comm.LogMessage(e)
	return nil
}

func (h *ForwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *ForwardHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

// multiHandler fans out log records to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
