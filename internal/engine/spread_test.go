package engine

import (
	"math/rand"
	"testing"
	"time"
)

func TestRunDelayFixedWindow(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	w := Window{Min: time.Hour, Max: time.Hour}
	for i := 0; i < 10; i++ {
		if got := runDelay(w, rng); got != time.Hour {
			t.Fatalf("runDelay(fixed) = %v, want %v", got, time.Hour)
		}
	}
}

func TestRunDelaySpreadWindow(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	w := Window{Min: 50 * time.Minute, Max: 70 * time.Minute}
	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d := runDelay(w, rng)
		if d < 0 || d >= w.Span() {
			t.Fatalf("runDelay(spread) = %v, want within [0, %v)", d, w.Span())
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Fatalf("runDelay(spread) returned a single value over 200 draws")
	}
}

func TestFirstDelay(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	if got := firstDelay(Window{Min: time.Hour, Max: time.Hour}, rng); got != 0 {
		t.Fatalf("firstDelay(fixed) = %v, want 0", got)
	}
	w := Window{Min: 50 * time.Minute, Max: 70 * time.Minute}
	for i := 0; i < 200; i++ {
		if d := firstDelay(w, rng); d < 0 || d >= w.Span() {
			t.Fatalf("firstDelay(spread) = %v, want within [0, %v)", d, w.Span())
		}
	}
}

func TestNewJitterRNGDistinctStreams(t *testing.T) {
	t.Parallel()

	// Not a statistical test: just proof that two tasks drawing at the
	// same instant do not share a stream.
	a, b := newJitterRNG("alpha"), newJitterRNG("beta")
	same := true
	for i := 0; i < 8; i++ {
		if a.Int63() != b.Int63() {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("newJitterRNG produced identical streams for distinct ids")
	}
}
