package obsrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glycerine/idem"
	"golang.org/x/sync/errgroup"
)

// Task is a background activity owned by a Supervisor.
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	// Restart a task that returns, unless it returned a
	// SevereError. Without Restart, a failing task escalates
	// and stops the whole set.
	Restart bool
}

// Supervisor runs a set of tasks. A task that dies is restarted
// after a delay, or, when it cannot be, its error cancels every
// other task and becomes the result of Wait.
type Supervisor struct {
	name  string
	delay time.Duration
	log   *slog.Logger

	halt   *idem.Halter
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
}

func NewSupervisor(ctx context.Context, name string, restartDelay time.Duration, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s := &Supervisor{
		name:   name,
		delay:  restartDelay,
		log:    log.With("supervisor", name),
		halt:   idem.NewHalterNamed("supervisor_" + name),
		ctx:    gctx,
		cancel: cancel,
		g:      g,
	}
	go func() {
		select {
		case <-s.halt.ReqStop.Chan:
			s.cancel()
		case <-gctx.Done():
		}
	}()
	return s
}

// Go starts t.
func (s *Supervisor) Go(t Task) {
	s.g.Go(func() error {
		for {
			err := s.runOnce(t)
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrSevere) {
				s.log.Error("task escalated", "task", t.Name, "error", err)
				return err
			}
			if !t.Restart {
				if err != nil {
					s.log.Error("task failed", "task", t.Name, "error", err)
				}
				return err
			}
			s.log.Warn("task ended, restarting", "task", t.Name, "error", err, "delay", s.delay)
			taskRestarts.WithLabelValues(t.Name).Inc()
			select {
			case <-time.After(s.delay):
			case <-s.ctx.Done():
				return nil
			}
		}
	})
}

// runOnce converts a panic into a task error.
func (s *Supervisor) runOnce(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{task: t.Name, val: r}
		}
	}()
	return t.Run(s.ctx)
}

type panicError struct {
	task string
	val  any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("task %v panicked: %v", e.task, e.val)
}

// Escalated is closed once the set is stopping, whether by
// Stop or by an escalated task failure.
func (s *Supervisor) Escalated() <-chan struct{} {
	return s.ctx.Done()
}

// Wait blocks until every task has returned, reporting the
// first escalated error.
func (s *Supervisor) Wait() error {
	err := s.g.Wait()
	s.halt.Done.Close()
	return err
}

// Stop cancels every task and waits for them.
func (s *Supervisor) Stop() error {
	s.halt.ReqStop.Close()
	return s.Wait()
}
