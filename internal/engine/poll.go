package engine

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"freshen/internal/storage"
	"freshen/internal/telemetry"
	"freshen/pkg/logx"
)

// pollStartDelay is how soon after Start the first tick fires. The
// first tick is deferred, never inline, so callers can finish wiring
// before anything runs.
const pollStartDelay = 100 * time.Millisecond

// pollSchedule wakes the loop on the engine's live cooldown. Next is
// computed fresh on every wakeup, so SetCooldown takes effect without
// a restart, and a slow tick never shifts the cadence decision to the
// job's duration.
type pollSchedule struct {
	e     *Engine
	first time.Time
}

func (s *pollSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return t.Add(s.e.cooldown())
}

// Start launches the poll loop. The loop owns no task executions:
// every due task runs on a detached goroutine so one slow handler
// cannot delay the next tick.
func (e *Engine) Start(ctx context.Context) error {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	if e.cron != nil {
		return errors.New("engine already started")
	}

	c := cron.New()
	c.Schedule(
		&pollSchedule{e: e, first: time.Now().Add(pollStartDelay)},
		cron.FuncJob(func() { e.tick(ctx) }),
	)
	c.Start()
	e.cron = c
	e.log.Info("poll loop started", logx.Duration("cooldown", e.cooldown()))
	return nil
}

// Stop halts the poll loop and waits for an in-flight tick, bounded
// by ctx. Detached task runs are not waited on.
func (e *Engine) Stop(ctx context.Context) error {
	e.pollMu.Lock()
	c := e.cron
	e.cron = nil
	e.pollMu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) tick(ctx context.Context) {
	telemetry.PollTicks.Inc()

	if err := e.Ready(); err != nil {
		// The barrier never un-fails; keeping the loop alive would
		// just repeat this forever.
		e.log.Error("startup barrier failed, poll loop halted", logx.Err(err))
		e.haltPolling()
		return
	}

	due, err := e.store.Find(ctx, storage.Filter{
		NextBefore: time.Now(),
		StatusNot:  storage.StatusRunning,
	})
	if err != nil {
		telemetry.PollTickErrors.Inc()
		if e.tickErrLim.Allow() {
			e.log.Warn("due-task query failed", logx.Err(err))
		}
		return
	}
	if len(due) == 0 {
		return
	}

	telemetry.DueTasks.Add(float64(len(due)))
	e.log.Debug("due tasks", logx.Int("count", len(due)))
	for _, rec := range due {
		id := rec.ID
		go func() {
			if err := e.Run(ctx, id); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				e.log.Warn("detached task run failed", logx.String("task", id), logx.Err(err))
			}
		}()
	}
}

// haltPolling signals the loop to stop without waiting. Called from
// inside a tick, so waiting on Stop's context would deadlock.
func (e *Engine) haltPolling() {
	e.pollMu.Lock()
	c := e.cron
	e.cron = nil
	e.pollMu.Unlock()
	if c != nil {
		c.Stop()
	}
}
