package sqlite

import (
	"context"
	"time"

	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/stats"
)

const totalGaugeKey = "__total__"

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// bumpStatusTx adjusts the live gauge for status. On entry to CREATED it
// also bumps the all-time total and that hour's "incoming" cell; on entry to
// SENT, that hour's "sent" cell. Negative gauges are clamped at zero.
func bumpStatusTx(ctx context.Context, tx sqlExecer, status message.Status, ts time.Time, entering bool) error {
	delta := -1
	if entering {
		delta = 1
	}
	if err := adjustGauge(ctx, tx, string(status), delta); err != nil {
		return err
	}

	if !entering {
		return nil
	}

	if status == message.StatusCreated {
		if err := adjustGauge(ctx, tx, totalGaugeKey, 1); err != nil {
			return err
		}
		if err := bumpStatCell(ctx, tx, ts, "incoming"); err != nil {
			return err
		}
	}
	if status == message.StatusSent {
		if err := bumpStatCell(ctx, tx, ts, "sent"); err != nil {
			return err
		}
	}
	return nil
}

func adjustGauge(ctx context.Context, tx sqlExecer, key string, delta int) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO stats_gauges (key, count) VALUES (?, MAX(0, ?))
ON CONFLICT(key) DO UPDATE SET count = MAX(0, count + ?)`, key, delta, delta)
	return err
}

// bumpStatCell increments message_stats(date, hour, status) where status is
// the synthetic "incoming"/"sent" trend label, not a message.Status value.
func bumpStatCell(ctx context.Context, tx sqlExecer, ts time.Time, label string) error {
	date := ts.UTC().Format(dayLayout)
	hour := ts.UTC().Hour()
	_, err := tx.ExecContext(ctx, `
INSERT INTO message_stats (date, hour, status, count) VALUES (?, ?, ?, 1)
ON CONFLICT(date, hour, status) DO UPDATE SET count = count + 1`, date, hour, label)
	return err
}

// Increment records one message entering status at timestamp ts.
func (s *Store) Increment(ctx context.Context, status message.Status, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := bumpStatusTx(ctx, tx, status, ts, true); err != nil {
		return err
	}
	return tx.Commit()
}

// Decrement records one message leaving status as of timestamp ts.
func (s *Store) Decrement(ctx context.Context, status message.Status, ts time.Time) error {
	return adjustGauge(ctx, s.db, string(status), -1)
}

// Get returns the current stats snapshot, combining the live gauges with
// the hourly/daily trend recorded in message_stats.
func (s *Store) Get(ctx context.Context) (stats.Snapshot, error) {
	byStatus, total, err := s.readGauges(ctx)
	if err != nil {
		return stats.Snapshot{}, err
	}

	hourly, err := s.readCells(ctx, "incoming", hourLayout)
	if err != nil {
		return stats.Snapshot{}, err
	}
	dailyIncoming, err := s.readCells(ctx, "incoming", dayLayout)
	if err != nil {
		return stats.Snapshot{}, err
	}
	dailySent, err := s.readCells(ctx, "sent", dayLayout)
	if err != nil {
		return stats.Snapshot{}, err
	}

	return stats.BuildSnapshot(time.Now().UTC(), total, byStatus, hourly, dailyIncoming, dailySent), nil
}

func (s *Store) readGauges(ctx context.Context) (map[message.Status]int64, int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, count FROM stats_gauges`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	byStatus := make(map[message.Status]int64)
	var total int64
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, 0, err
		}
		if key == totalGaugeKey {
			total = count
			continue
		}
		byStatus[message.Status(key)] = count
	}
	return byStatus, total, rows.Err()
}

// readCells groups message_stats rows for label by a date or hour key
// (layout distinguishes the two: dayLayout groups same-day hours together,
// hourLayout keeps each hour distinct).
func (s *Store) readCells(ctx context.Context, label, layout string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, hour, count FROM message_stats WHERE status = ?`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var date string
		var hour int
		var count int64
		if err := rows.Scan(&date, &hour, &count); err != nil {
			return nil, err
		}
		day, err := time.Parse(dayLayout, date)
		if err != nil {
			return nil, err
		}
		ts := day.Add(time.Duration(hour) * time.Hour)
		key := ts.Format(layout)
		result[key] += count
	}
	return result, rows.Err()
}

// InitializeFromMessages rebuilds every counter from scratch, the documented
// recovery path after a crash between a message write and a counter write.
func (s *Store) InitializeFromMessages(ctx context.Context, messages []*message.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stats_gauges`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_stats`); err != nil {
		return err
	}

	for _, m := range messages {
		if err := adjustGauge(ctx, tx, string(m.Status), 1); err != nil {
			return err
		}
		if err := adjustGauge(ctx, tx, totalGaugeKey, 1); err != nil {
			return err
		}
		if err := bumpStatCell(ctx, tx, m.CreatedAt, "incoming"); err != nil {
			return err
		}
		if m.Status == message.StatusSent && m.DeliveredAt != nil {
			if err := bumpStatCell(ctx, tx, *m.DeliveredAt, "sent"); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
