package durstr

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "bare number is milliseconds", in: "500", want: 500 * time.Millisecond},
		{name: "milliseconds", in: "250ms", want: 250 * time.Millisecond},
		{name: "seconds", in: "90s", want: 90 * time.Second},
		{name: "minutes short", in: "5min", want: 5 * time.Minute},
		{name: "minutes single letter", in: "10m", want: 10 * time.Minute},
		{name: "hours", in: "2h", want: 2 * time.Hour},
		{name: "fractional hours", in: "1.5h", want: 90 * time.Minute},
		{name: "spaced unit", in: "2 days", want: 48 * time.Hour},
		{name: "weeks", in: "1w", want: 7 * 24 * time.Hour},
		{name: "compound", in: "1h 30min", want: 90 * time.Minute},
		{name: "compound no space", in: "1h30min", want: 90 * time.Minute},
		{name: "long unit names", in: "10 minutes", want: 10 * time.Minute},
		{name: "surrounding whitespace", in: "  45s  ", want: 45 * time.Second},
		{name: "empty", in: "", wantErr: true},
		{name: "blank", in: "   ", wantErr: true},
		{name: "unit only", in: "h", wantErr: true},
		{name: "unknown unit", in: "5 parsecs", wantErr: true},
		{name: "trailing garbage", in: "5min !", wantErr: true},
		{name: "negative", in: "-5min", wantErr: true},
		{name: "double dot", in: "1..5s", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{name: "zero", in: 0, want: "0ms"},
		{name: "sub-millisecond", in: 400 * time.Microsecond, want: "0ms"},
		{name: "milliseconds", in: 450 * time.Millisecond, want: "450ms"},
		{name: "seconds", in: 45 * time.Second, want: "45s"},
		{name: "seconds and millis", in: 1500 * time.Millisecond, want: "1s 500ms"},
		{name: "minutes and seconds", in: 61 * time.Second, want: "1min 1s"},
		{name: "hours and minutes", in: 90 * time.Minute, want: "1h 30min"},
		{name: "days and hours", in: 26 * time.Hour, want: "1d 2h"},
		{name: "negative", in: -45 * time.Second, want: "-45s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Format(tt.in); got != tt.want {
				t.Fatalf("Format(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	// Values expressible in the two largest units round-trip exactly.
	durations := []time.Duration{
		0,
		450 * time.Millisecond,
		45 * time.Second,
		90 * time.Minute,
		26 * time.Hour,
		1500 * time.Millisecond,
	}
	for _, d := range durations {
		s := Format(d)
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(Format(%v)) = Parse(%q) error: %v", d, s, err)
		}
		if got != d {
			t.Fatalf("Parse(Format(%v)) = %v, want %v", d, got, d)
		}
	}
}
