// Package stats implements the Stats Service (spec §4.2, component C3): a
// derived projection of running counters, eventually consistent with the
// Message Store and always rebuildable from it via InitializeFromMessages.
package stats

import (
	"context"
	"time"

	"github.com/dnlfm/done/message"
)

const hoursPerDay = 24

// dailyTrendDays is the width of the daily trend window (spec §4.2).
const dailyTrendDays = 7

// DayTrend is one day's (incoming, sent) pair in the daily trend.
type DayTrend struct {
	Date     string `json:"date"`
	Incoming int64  `json:"incoming"`
	Sent     int64  `json:"sent"`
}

// Snapshot is the point-in-time view returned by Get.
type Snapshot struct {
	Total        int64                      `json:"total"`
	ByStatus     map[message.Status]int64   `json:"by_status"`
	Last24h      int64                      `json:"last_24h"`
	Last7d       int64                      `json:"last_7d"`
	HourlyCounts [hoursPerDay]int64         `json:"hourly_counts"`
	DailyTrend   [dailyTrendDays]DayTrend   `json:"daily_trend"`
}

// BuildSnapshot assembles a Snapshot from raw counters so that every backend
// (memory, sqlite, redis) computes the rolling windows the same way instead
// of each re-deriving the hour/day arithmetic.
//
// hourly and daily are keyed the same way the backends bucket their counts:
// hourly by "2006-01-02T15" (incoming only), daily by "2006-01-02" for both
// incoming and sent.
func BuildSnapshot(now time.Time, total int64, byStatus map[message.Status]int64, hourly map[string]int64, dailyIncoming, dailySent map[string]int64) Snapshot {
	snap := Snapshot{
		Total:    total,
		ByStatus: make(map[message.Status]int64, len(byStatus)),
	}
	for status, count := range byStatus {
		snap.ByStatus[status] = count
	}

	for i := hoursPerDay - 1; i >= 0; i-- {
		slot := now.Add(-time.Duration(i) * time.Hour)
		key := slot.Format("2006-01-02T15")
		count := hourly[key]
		snap.HourlyCounts[hoursPerDay-1-i] = count
		snap.Last24h += count
	}

	for i := dailyTrendDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		key := day.Format("2006-01-02")
		incoming := dailyIncoming[key]
		sent := dailySent[key]
		snap.DailyTrend[dailyTrendDays-1-i] = DayTrend{Date: key, Incoming: incoming, Sent: sent}
		snap.Last7d += incoming
	}

	return snap
}

// Store is the Stats Service contract. Counters are clamped at zero on
// decrement, never going negative (spec §4.2).
type Store interface {
	// Increment records one message entering status at timestamp ts.
	Increment(ctx context.Context, status message.Status, ts time.Time) error

	// Decrement records one message leaving status as of timestamp ts.
	Decrement(ctx context.Context, status message.Status, ts time.Time) error

	// Get returns the current snapshot.
	Get(ctx context.Context) (Snapshot, error)

	// InitializeFromMessages rebuilds all counters from scratch by replaying
	// every message currently in the store, the documented recovery path
	// after a crash between a message write and a counter write (spec §5).
	InitializeFromMessages(ctx context.Context, messages []*message.Message) error
}
