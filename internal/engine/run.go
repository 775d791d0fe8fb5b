package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"

	"freshen/internal/eventbus"
	"freshen/internal/storage"
	"freshen/internal/telemetry"
	"freshen/pkg/durstr"
	"freshen/pkg/logx"
)

// Run executes one task by id, start to finish: wait for the startup
// barrier, guard against a concurrent run, mark the record running,
// invoke the handler, persist the outcome, and reschedule inside the
// task's window.
//
// A handler failure is persisted and announced on the bus, never
// returned. The error result covers runs that could not happen at
// all: barrier failure, record lookup failure, the duplicate-run
// guard (ErrAlreadyRunning), or a store write going dark mid-run.
func (e *Engine) Run(ctx context.Context, id string) error {
	if err := e.Ready(); err != nil {
		return err
	}

	log := e.log.With(
		logx.String("task", id),
		logx.String("run_id", uuid.NewString()),
	)

	e.publish(eventbus.Event{Type: eventbus.TaskWillStart, Task: id})

	rec, err := e.store.FindOne(ctx, storage.Filter{ID: id})
	if err != nil {
		telemetry.RunsTotal.WithLabelValues("find_error").Inc()
		log.Warn("task lookup failed", logx.Err(err))
		e.publish(eventbus.Event{Type: eventbus.TaskFindError, Task: id, Err: err.Error()})
		return fmt.Errorf("task %q: load record: %w", id, err)
	}

	// The status guard is read-then-write, not atomic: two racing
	// callers can both pass it. The poll loop already filters running
	// records out, so the race needs two overlapping manual runs
	// inside one poll interval.
	if rec.Status == storage.StatusRunning {
		telemetry.RunsTotal.WithLabelValues("cancelled").Inc()
		log.Debug("task already running, skipping")
		e.publish(eventbus.Event{
			Type:   eventbus.TaskCancelled,
			Task:   id,
			Record: &rec,
			Reason: "Already Running",
		})
		return ErrAlreadyRunning
	}

	e.publish(eventbus.Event{Type: eventbus.TaskStart, Task: id, Record: &rec})

	start := time.Now()
	rec, err = e.markRunning(ctx, id, start)
	if err != nil {
		log.Error("task start not persisted", logx.Err(err))
		return fmt.Errorf("task %q: mark running: %w", id, err)
	}

	telemetry.TasksRunning.Inc()
	defer telemetry.TasksRunning.Dec()

	log.Debug("task starting")

	// Redrawn on every run so repeated runs do not phase-lock.
	delay := runDelay(Window{Min: rec.MinAge, Max: rec.MaxAge}, newJitterRNG(id))

	result, runErr := e.invoke(ctx, log, Task{ID: id, Record: rec})

	end := time.Now()
	dur := end.Sub(start)

	var lastResult null.String
	if runErr == nil && result != nil {
		s, encErr := e.codec.Encode(result)
		if encErr != nil {
			runErr = fmt.Errorf("encode result: %w", encErr)
		} else {
			lastResult = null.StringFrom(s)
		}
	}

	status := storage.StatusWaiting
	last := null.TimeFrom(start)
	lastEnd := null.TimeFrom(end)
	lastElapsed := null.StringFrom(durstr.Format(dur))
	lastError := null.String{}
	outcome := storage.OutcomeSuccess
	if runErr != nil {
		outcome = storage.OutcomeError
		lastError = null.StringFrom(runErr.Error())
		lastResult = null.String{}
	}
	next := end.Add(delay)

	_, err = e.store.Update(ctx, storage.Filter{ID: id}, storage.Patch{
		Status:      &status,
		Last:        &last,
		LastStatus:  &outcome,
		LastError:   &lastError,
		LastEnd:     &lastEnd,
		LastElapsed: &lastElapsed,
		LastResult:  &lastResult,
		Next:        &next,
	}, storage.UpdateOptions{})
	if err != nil {
		log.Error("task outcome not persisted", logx.Err(err))
		return fmt.Errorf("task %q: persist outcome: %w", id, err)
	}
	rec, err = e.store.FindOne(ctx, storage.Filter{ID: id})
	if err != nil {
		log.Error("task record reload failed", logx.Err(err))
		return fmt.Errorf("task %q: reload record: %w", id, err)
	}

	if runErr != nil {
		telemetry.RunsTotal.WithLabelValues("error").Inc()
		log.Warn("task failed",
			logx.Err(runErr),
			logx.Duration("dur", dur),
			logx.Time("next", next))
		e.publish(eventbus.Event{Type: eventbus.TaskError, Task: id, Record: &rec, Err: runErr.Error()})
	} else {
		telemetry.RunsTotal.WithLabelValues("success").Inc()
		if dur >= 750*time.Millisecond {
			log.Info("task completed",
				logx.Duration("dur", dur),
				logx.Time("next", next))
		} else {
			log.Debug("task completed",
				logx.Duration("dur", dur),
				logx.Time("next", next))
		}
		e.publish(eventbus.Event{Type: eventbus.TaskSuccess, Task: id, Record: &rec})
	}

	e.publish(eventbus.Event{Type: eventbus.TaskEnd, Task: id, Record: &rec})
	return nil
}

// markRunning persists the running transition and reloads the record,
// so the handler sees any interleaved external writes.
func (e *Engine) markRunning(ctx context.Context, id string, start time.Time) (storage.Record, error) {
	status := storage.StatusRunning
	last := null.TimeFrom(start)
	lastEnd := null.Time{}
	_, err := e.store.Update(ctx, storage.Filter{ID: id}, storage.Patch{
		Status:  &status,
		Last:    &last,
		LastEnd: &lastEnd,
	}, storage.UpdateOptions{})
	if err != nil {
		return storage.Record{}, err
	}
	return e.store.FindOne(ctx, storage.Filter{ID: id})
}

func (e *Engine) invoke(ctx context.Context, log logx.Logger, t Task) (result any, err error) {
	h, ok := e.handler(t.ID)
	if !ok || h == nil {
		return nil, fmt.Errorf("no handler bound for task %q", t.ID)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task handler panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return h(ctx, t)
}
