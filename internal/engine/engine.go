// Package engine keeps task data fresh. Each task declares an age
// window; the engine persists one record per task, polls for records
// whose next-due time has passed, and reruns the bound handler,
// rescheduling with jitter inside the window after every run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"freshen/internal/eventbus"
	"freshen/internal/storage"
	"freshen/pkg/logx"
)

// DefaultCooldown is the poll interval used when none is configured.
const DefaultCooldown = 60 * time.Second

// Task is what a handler receives: the task id and the record as
// loaded right before the handler ran.
type Task struct {
	ID     string
	Record storage.Record
}

// Handler is one unit of refresh work. The returned value is encoded
// with the engine's ResultCodec and persisted as the last result; a
// returned error marks the run failed and is persisted, not
// propagated.
type Handler func(ctx context.Context, t Task) (any, error)

// Config tunes an Engine.
type Config struct {
	// Cooldown is the poll interval. Zero means DefaultCooldown.
	Cooldown time.Duration

	// Codec encodes handler results. Nil means JSONCodec.
	Codec ResultCodec
}

// Engine owns the task table: registration, the startup barrier, the
// run state machine, and the poll loop.
type Engine struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	codec ResultCodec

	cooldownNS atomic.Int64
	tickErrLim *rate.Limiter

	mu       sync.Mutex
	handlers map[string]Handler
	reg      *errgroup.Group
	sealed   bool

	readyOnce sync.Once
	readyErr  error

	pollMu sync.Mutex
	cron   *cron.Cron
}

// New builds an Engine on top of a store. The bus may be nil when
// nobody listens.
func New(cfg Config, st storage.Store, bus eventbus.Bus, log logx.Logger) (*Engine, error) {
	if st == nil {
		return nil, ErrNoStore
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	e := &Engine{
		store:      st,
		bus:        bus,
		log:        log,
		codec:      codec,
		tickErrLim: rate.NewLimiter(rate.Every(30*time.Second), 1),
		handlers:   map[string]Handler{},
		reg:        &errgroup.Group{},
	}
	e.SetCooldown(cfg.Cooldown)
	return e, nil
}

// SetCooldown adjusts the poll interval; zero or negative restores the
// default. Takes effect from the next wakeup.
func (e *Engine) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	e.cooldownNS.Store(int64(d))
}

func (e *Engine) cooldown() time.Duration {
	return time.Duration(e.cooldownNS.Load())
}

// Schedule binds a handler to id and kicks off the task's
// registration: parse the window, reconcile the persisted record
// against it, write it back, announce it. Registration runs
// asynchronously and its outcome is collected by Ready.
//
// Each id may be scheduled once per process; a duplicate fails both
// the call and the startup barrier. Scheduling after Ready is
// rejected with ErrSealed.
func (e *Engine) Schedule(id, window string, h Handler) error {
	e.mu.Lock()
	if e.sealed {
		e.mu.Unlock()
		return ErrSealed
	}
	if _, dup := e.handlers[id]; dup {
		err := fmt.Errorf("task %q defined multiple times", id)
		e.reg.Go(func() error { return err })
		e.mu.Unlock()
		return err
	}
	e.handlers[id] = h
	reg := e.reg
	e.mu.Unlock()

	reg.Go(func() error {
		return e.register(context.Background(), id, window)
	})
	return nil
}

func (e *Engine) register(ctx context.Context, id, window string) error {
	w, err := ParseWindow(window)
	if err != nil {
		return fmt.Errorf("task %q: %w", id, err)
	}

	var prior *storage.Record
	switch rec, err := e.store.FindOne(ctx, storage.Filter{ID: id}); {
	case err == nil:
		prior = &rec
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("task %q: load record: %w", id, err)
	}

	merged := reconcile(prior, id, w, time.Now(), newJitterRNG(id))
	_, err = e.store.Update(ctx, storage.Filter{ID: id}, storage.FullPatch(merged), storage.UpdateOptions{Upsert: true})
	if err != nil {
		return fmt.Errorf("task %q: persist record: %w", id, err)
	}

	e.log.Debug("task registered",
		logx.String("task", id),
		logx.Duration("min_age", w.Min),
		logx.Duration("max_age", w.Max),
		logx.Time("next", merged.Next))
	e.publish(eventbus.Event{Type: eventbus.TaskRegistered, Task: id, Record: &merged})
	return nil
}

// Ready blocks until every registration issued so far has finished.
// The first call latches the barrier: later Schedule calls are
// rejected and the outcome never changes across repeated calls. Any
// registration failure surfaces here, wrapped around the original.
func (e *Engine) Ready() error {
	e.readyOnce.Do(func() {
		e.mu.Lock()
		e.sealed = true
		reg := e.reg
		e.mu.Unlock()

		if err := reg.Wait(); err != nil {
			e.readyErr = fmt.Errorf("%w: %s", ErrStartupFailed, err)
		}
	})
	return e.readyErr
}

// Report waits for the startup barrier, then returns every persisted
// task record.
func (e *Engine) Report(ctx context.Context) ([]storage.Record, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}
	return e.store.Find(ctx, storage.Filter{})
}

// Task waits for the startup barrier, then returns one record.
func (e *Engine) Task(ctx context.Context, id string) (storage.Record, error) {
	if err := e.Ready(); err != nil {
		return storage.Record{}, err
	}
	return e.store.FindOne(ctx, storage.Filter{ID: id})
}

func (e *Engine) handler(id string) (Handler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[id]
	return h, ok
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
