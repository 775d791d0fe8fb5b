package engine

import (
	"math/rand"
	"sync/atomic"
	"time"
)

var jitterSeq uint64

// newJitterRNG builds a dedicated source seeded from the clock, a
// process-wide sequence, and the task id, so concurrent draws for
// different tasks do not correlate.
func newJitterRNG(id string) *rand.Rand {
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&jitterSeq, 1)) ^ int64(fnv64a(id))
	return rand.New(rand.NewSource(seed))
}

// firstDelay spreads a task's first eligibility across the window
// span. A fresh record is treated as already expired, so a fixed
// window is due immediately.
func firstDelay(w Window, rng *rand.Rand) time.Duration {
	span := w.Span()
	if span <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(span)))
}

// runDelay picks how long a completed run waits before the task is
// due again: exactly Min for a fixed window, otherwise a fresh
// uniform draw across the span so repeated runs do not phase-lock.
func runDelay(w Window, rng *rand.Rand) time.Duration {
	span := w.Span()
	if span <= 0 {
		return w.Min
	}
	return time.Duration(rng.Int63n(int64(span)))
}

func fnv64a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
