package security

import (
	"strconv"
	"strings"
	"time"

	"hookgate/internal/constants"
)

const (
	ReasonStale     = "timestamp_too_old"
	ReasonFuture    = "timestamp_in_future"
	ReasonMalformed = "timestamp_malformed"
)

// ReplayCheck is the outcome of ReplayGuard.Check.
type ReplayCheck struct {
	IsReplay bool
	Reason   string
	// Unverified is set when the sender supplied no timestamp. The request
	// passes but should be flagged for audit.
	Unverified bool
	Timestamp  *time.Time
}

type ReplayGuard struct {
	window time.Duration
	skew   time.Duration
	now    func() time.Time
}

func NewReplayGuard(window, skew time.Duration) *ReplayGuard {
	if window <= 0 {
		window = constants.DefaultReplayWindow
	}
	if skew < 0 {
		skew = constants.DefaultClockSkewTolerance
	}
	return &ReplayGuard{window: window, skew: skew, now: time.Now}
}

// WithClock returns a copy of the guard reading time from now.
func (g *ReplayGuard) WithClock(now func() time.Time) *ReplayGuard {
	cp := *g
	cp.now = now
	return &cp
}

// Check accepts unix seconds, unix milliseconds or RFC 3339. Anything else is
// a replay.
func (g *ReplayGuard) Check(claimed string) ReplayCheck {
	claimed = strings.TrimSpace(claimed)
	if claimed == "" {
		return ReplayCheck{Unverified: true}
	}

	ts, ok := ParseTimestamp(claimed)
	if !ok {
		return ReplayCheck{IsReplay: true, Reason: ReasonMalformed}
	}

	now := g.now()
	switch {
	case now.Sub(ts) > g.window:
		return ReplayCheck{IsReplay: true, Reason: ReasonStale, Timestamp: &ts}
	case ts.Sub(now) > g.skew:
		return ReplayCheck{IsReplay: true, Reason: ReasonFuture, Timestamp: &ts}
	}
	return ReplayCheck{Timestamp: &ts}
}

func ParseTimestamp(raw string) (time.Time, bool) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		// 13+ digits is milliseconds.
		if n >= 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
