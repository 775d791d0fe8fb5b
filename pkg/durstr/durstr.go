// Package durstr parses and formats compact human-readable durations
// ("500ms", "5min", "1h 30min", "2 days"). Bare numbers are taken as
// milliseconds.
package durstr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// unitScale maps a lowercased unit token to its duration. The empty
// unit (bare number) means milliseconds.
var unitScale = map[string]time.Duration{
	"":             time.Millisecond,
	"ms":           time.Millisecond,
	"msec":         time.Millisecond,
	"msecs":        time.Millisecond,
	"millisecond":  time.Millisecond,
	"milliseconds": time.Millisecond,
	"s":            time.Second,
	"sec":          time.Second,
	"secs":         time.Second,
	"second":       time.Second,
	"seconds":      time.Second,
	"m":            time.Minute,
	"min":          time.Minute,
	"mins":         time.Minute,
	"minute":       time.Minute,
	"minutes":      time.Minute,
	"h":            time.Hour,
	"hr":           time.Hour,
	"hrs":          time.Hour,
	"hour":         time.Hour,
	"hours":        time.Hour,
	"d":            24 * time.Hour,
	"day":          24 * time.Hour,
	"days":         24 * time.Hour,
	"w":            7 * 24 * time.Hour,
	"week":         7 * 24 * time.Hour,
	"weeks":        7 * 24 * time.Hour,
}

// Parse converts a compact human duration into a time.Duration.
// Value/unit pairs may repeat and add up: "1h 30min" is 90 minutes.
// Fractional values are allowed ("1.5h") and rounded to the nearest
// nanosecond.
func Parse(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for rest != "" {
		num, unit, tail, err := scanToken(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		scale, ok := unitScale[strings.ToLower(unit)]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unit)
		}
		total += time.Duration(math.Round(num * float64(scale)))
		rest = strings.TrimSpace(tail)
	}
	return total, nil
}

// scanToken reads one leading value/unit pair ("90s", "1.5 h") and
// returns the remainder of the input.
func scanToken(s string) (num float64, unit, rest string, err error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, "", "", fmt.Errorf("expected number at %q", s)
	}
	num, err = strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("bad number %q", s[:i])
	}
	j := i
	for j < len(s) && s[j] == ' ' {
		j++
	}
	k := j
	for k < len(s) && isLetter(s[k]) {
		k++
	}
	return num, s[j:k], s[k:], nil
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

var formatUnits = []struct {
	name string
	d    time.Duration
}{
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"min", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
}

// Format renders d using at most the two largest applicable units
// ("1h 30min", "45s 500ms"). Sub-millisecond remainders are dropped;
// the zero duration renders as "0ms". Output parses back with Parse.
func Format(d time.Duration) string {
	if d == 0 {
		return "0ms"
	}
	neg := d < 0
	if neg {
		d = -d
	}
	parts := make([]string, 0, 2)
	for _, u := range formatUnits {
		if d < u.d {
			continue
		}
		n := d / u.d
		d -= n * u.d
		parts = append(parts, strconv.FormatInt(int64(n), 10)+u.name)
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "0ms"
	}
	out := strings.Join(parts, " ")
	if neg {
		out = "-" + out
	}
	return out
}
