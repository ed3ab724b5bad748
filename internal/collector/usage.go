package collector

import (
	"context"
	"fmt"
)

// UsageEventType is the kind of foreground transition reported for a package.
type UsageEventType int

const (
	MoveToForeground UsageEventType = 1
	MoveToBackground UsageEventType = 2
)

// UsageEvent is a raw foreground/background transition.
type UsageEvent struct {
	Timestamp   int64
	PackageName string
	Type        UsageEventType
}

// UsageEventSource returns the transition events recorded in [start, end),
// in the order they were delivered.
type UsageEventSource interface {
	QueryEvents(ctx context.Context, start, end int64) ([]UsageEvent, error)
}

// Interval is a closed foreground interval for one package.
type Interval struct {
	PackageName string
	Start       int64
	End         int64
}

// SessionID derives the stable session key from package and start instant.
func SessionID(packageName string, start int64) string {
	return fmt.Sprintf("%s-%d", packageName, start)
}

// CorrelateSessions pairs foreground and background events into intervals.
//
// A foreground event replaces any pending foreground event for the same
// package. A background event closes the pending interval for its package,
// if any. Intervals still open when the events run out are dropped, as are
// pairs whose background event is stamped before its foreground event.
func CorrelateSessions(events []UsageEvent) []Interval {
	pending := make(map[string]UsageEvent)
	var out []Interval
	for _, e := range events {
		switch e.Type {
		case MoveToForeground:
			pending[e.PackageName] = e
		case MoveToBackground:
			start, ok := pending[e.PackageName]
			if !ok {
				continue
			}
			delete(pending, e.PackageName)
			if e.Timestamp < start.Timestamp {
				continue
			}
			out = append(out, Interval{
				PackageName: e.PackageName,
				Start:       start.Timestamp,
				End:         e.Timestamp,
			})
		}
	}
	return out
}
