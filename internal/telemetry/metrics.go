// Package telemetry exposes freshend's Prometheus metrics.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts finished task runs by outcome
	// (success, error, cancelled, find_error).
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "freshen_runs_total",
		Help: "Task runs by outcome.",
	}, []string{"outcome"})

	PollTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "freshen_poll_ticks_total",
		Help: "Poll loop wakeups.",
	})

	PollTickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "freshen_poll_tick_errors_total",
		Help: "Poll loop due-task queries that failed.",
	})

	DueTasks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "freshen_due_tasks_total",
		Help: "Due tasks handed to the runner by the poll loop.",
	})

	TasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "freshen_tasks_running",
		Help: "Task handlers currently executing.",
	})
)

var registerOnce sync.Once

// Register installs the collectors in the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RunsTotal, PollTicks, PollTickErrors, DueTasks, TasksRunning)
	})
}

// Handler serves the default registry over HTTP.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
