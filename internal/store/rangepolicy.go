// This file implements the timestamp-range policy backing ValidTS: the
// database-level window a point's timestamp must fall within, derived from
// the admin collaborator's time_precision/duration_num configuration
// (§6.4), not from any per-series state.
package store

import (
	"fmt"
	"strconv"
	"time"
)

// TimePrecision is the unit a database's raw int64 timestamps are counted
// in, matching the admin collaborator's time_precision field.
type TimePrecision int

const (
	PrecisionSeconds TimePrecision = iota
	PrecisionMillis
	PrecisionMicros
	PrecisionNanos
)

// ParseTimePrecision maps a configured time_precision string ("s", "ms",
// "us", "ns") onto a TimePrecision, defaulting to seconds for an
// unrecognized or empty value, the same default the admin collaborator
// applies (dbadmin.DefaultTimePrecision).
func ParseTimePrecision(s string) TimePrecision {
	switch s {
	case "ms":
		return PrecisionMillis
	case "us":
		return PrecisionMicros
	case "ns":
		return PrecisionNanos
	default:
		return PrecisionSeconds
	}
}

func (p TimePrecision) unit() int64 {
	switch p {
	case PrecisionMillis:
		return int64(time.Millisecond)
	case PrecisionMicros:
		return int64(time.Microsecond)
	case PrecisionNanos:
		return int64(time.Nanosecond)
	default:
		return int64(time.Second)
	}
}

// ParseDurationSpec parses a SiriDB-style duration string — an integer
// followed by a single unit letter (s, m, h, d, w, y) — into a
// time.Duration, the format database.conf's duration_num/duration_log
// fields use (§6.4).
func ParseDurationSpec(spec string) (time.Duration, error) {
	if len(spec) < 2 {
		return 0, fmt.Errorf("store: invalid duration spec %q", spec)
	}
	unit := spec[len(spec)-1]
	n, err := strconv.ParseInt(spec[:len(spec)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("store: invalid duration spec %q", spec)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("store: unknown duration unit %q in %q", unit, spec)
	}
}

// RangePolicy is the timestamp-range check backing SeriesStore.ValidTS,
// derived from a database's configured duration_num and time_precision
// (§6.4): a point's timestamp must fall within [now-Duration, now] of the
// policy's clock, expressed in Precision units since the Unix epoch. A
// zero-value RangePolicy (Duration <= 0) accepts every timestamp — the
// behavior a store without admin-supplied configuration falls back to.
type RangePolicy struct {
	Precision TimePrecision
	Duration  time.Duration
	Clock     func() time.Time // overridable for tests; defaults to time.Now
}

func (p RangePolicy) clock() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Valid reports whether ts, expressed in p.Precision units since the Unix
// epoch, falls within the currently configured range.
func (p RangePolicy) Valid(ts int64) bool {
	if p.Duration <= 0 {
		return true
	}
	unit := p.Precision.unit()
	now := p.clock().UnixNano() / unit
	min := now - int64(p.Duration)/unit
	return ts >= min && ts <= now
}
