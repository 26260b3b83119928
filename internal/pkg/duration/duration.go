// Package duration parses and formats the compact key duration notation
// ("7d", "12h", "1w3d4h").
package duration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// Unit sizes in seconds.
const (
	Second int64 = 1
	Minute       = 60 * Second
	Hour         = 60 * Minute
	Day          = 24 * Hour
	Week         = 7 * Day
)

type unit struct {
	suffix   byte
	seconds  int64
	singular string
}

// units is ordered from largest to smallest.
var units = []unit{
	{'w', Week, "week"},
	{'d', Day, "day"},
	{'h', Hour, "hour"},
	{'m', Minute, "minute"},
	{'s', Second, "second"},
}

func unitFor(c byte) (unit, bool) {
	for _, u := range units {
		if u.suffix == c {
			return u, true
		}
	}
	return unit{}, false
}

// Parse converts text such as "7d" or "1w3d4h" into seconds.
// Segments are <digits><unit> with unit in s, m, h, d, w (case-insensitive) and are summed.
// Returns domain.ErrInvalidFormat when the text does not match the grammar and
// domain.ErrNonPositive when any segment or the total is not positive.
func Parse(text string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, domain.NewDomainError(domain.ErrInvalidFormat, "duration is empty", text)
	}

	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}

	total, zeroSegment, err := sumSegments(s)
	if err != nil {
		return 0, domain.NewDomainError(domain.ErrInvalidFormat, err.Error(), text)
	}

	if negative || zeroSegment || total <= 0 {
		return 0, domain.NewDomainError(domain.ErrNonPositive, "use values like 1d, 12h, 30m, 45s, 2w or 1w3d", text)
	}

	return total, nil
}

// sumSegments scans s as one or more <digits><unit> segments.
func sumSegments(s string) (total int64, zeroSegment bool, err error) {
	if s == "" {
		return 0, false, fmt.Errorf("no segments")
	}

	i := 0
	for i < len(s) {
		start := i
		var value int64
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			d := int64(s[i] - '0')
			if value > (math.MaxInt64-d)/10 {
				return 0, false, fmt.Errorf("value too large")
			}
			value = value*10 + d
			i++
		}
		if i == start {
			return 0, false, fmt.Errorf("expected digits at position %d", start)
		}
		if i == len(s) {
			return 0, false, fmt.Errorf("missing unit after %q", s[start:i])
		}

		u, ok := unitFor(s[i])
		if !ok {
			return 0, false, fmt.Errorf("unknown unit %q", s[i])
		}
		i++

		if value == 0 {
			zeroSegment = true
			continue
		}
		if value > math.MaxInt64/u.seconds {
			return 0, false, fmt.Errorf("value too large")
		}
		seconds := value * u.seconds
		if total > math.MaxInt64-seconds {
			return 0, false, fmt.Errorf("value too large")
		}
		total += seconds
	}

	return total, zeroSegment, nil
}

// Format renders seconds in the largest whole unit not exceeding the value,
// e.g. 604800 -> "1 week", 7200 -> "2 hours".
func Format(seconds int64) string {
	if seconds <= 0 {
		return "0 seconds"
	}
	for _, u := range units {
		if seconds >= u.seconds {
			return plural(seconds/u.seconds, u.singular)
		}
	}
	return plural(seconds, "second")
}

// Label renders seconds as the short persisted label, e.g. "7d", "12h", "2w".
func Label(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}
	for _, u := range units {
		if seconds >= u.seconds {
			return fmt.Sprintf("%d%c", seconds/u.seconds, u.suffix)
		}
	}
	return fmt.Sprintf("%ds", seconds)
}

// Describe renders d as up to three non-zero components, e.g. "2 days, 3 hours, 5 minutes".
// Durations under a minute render in seconds.
func Describe(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		seconds = -seconds
	}
	if seconds < Minute {
		return plural(seconds, "second")
	}

	parts := make([]string, 0, 3)
	for _, u := range units[1:4] {
		if n := seconds / u.seconds; n > 0 {
			parts = append(parts, plural(n, u.singular))
			seconds -= n * u.seconds
		}
	}
	return strings.Join(parts, ", ")
}

// Until describes the span between from and to for display,
// e.g. "in 3 hours" or "2 days ago".
func Until(from, to time.Time) string {
	d := to.Sub(from)
	if d > 0 {
		return "in " + Describe(d)
	}
	return Describe(d) + " ago"
}

func plural(n int64, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
