package engine

import (
	"fmt"
	"strings"
	"time"

	"freshen/pkg/durstr"
)

// Window bounds how old a task's data may get before it is refreshed.
// Task definitions spell it three ways:
//
//	"1h"             fixed: min and max are the same
//	"1h +/- 10min"   tolerance: min = base-tol, max = base+tol
//	"50min - 70min"  range: explicit bounds
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Span is the width of the window.
func (w Window) Span() time.Duration { return w.Max - w.Min }

// ParseWindow parses a window spelling. The tolerance form is cut
// before the range form so the "-" inside "+/-" is never mistaken for
// a range separator.
func ParseWindow(raw string) (Window, error) {
	s := strings.TrimSpace(raw)

	if base, tol, ok := strings.Cut(s, "+/-"); ok {
		b, err := durstr.Parse(strings.TrimSpace(base))
		if err != nil {
			return Window{}, fmt.Errorf("invalid age window %q: %w", raw, err)
		}
		t, err := durstr.Parse(strings.TrimSpace(tol))
		if err != nil {
			return Window{}, fmt.Errorf("invalid age window %q: %w", raw, err)
		}
		if t > b {
			return Window{}, fmt.Errorf("invalid age window %q: tolerance exceeds base age", raw)
		}
		return Window{Min: b - t, Max: b + t}, nil
	}

	if loRaw, hiRaw, ok := strings.Cut(s, "-"); ok {
		lo, err := durstr.Parse(strings.TrimSpace(loRaw))
		if err != nil {
			return Window{}, fmt.Errorf("invalid age window %q: %w", raw, err)
		}
		hi, err := durstr.Parse(strings.TrimSpace(hiRaw))
		if err != nil {
			return Window{}, fmt.Errorf("invalid age window %q: %w", raw, err)
		}
		if lo > hi {
			return Window{}, fmt.Errorf("invalid age window %q: minimum exceeds maximum", raw)
		}
		return Window{Min: lo, Max: hi}, nil
	}

	d, err := durstr.Parse(s)
	if err != nil {
		return Window{}, fmt.Errorf("invalid age window %q: %w", raw, err)
	}
	return Window{Min: d, Max: d}, nil
}
