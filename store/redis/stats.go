package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/stats"
)

// decrClampScript decrements a counter but never takes it below zero.
var decrClampScript = goredis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v <= 0 then return 0 end
return redis.call('DECR', KEYS[1])
`)

// decrByClampScript decrements a counter by ARGV[1] but never takes it below zero.
var decrByClampScript = goredis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if v - n < 0 then
  redis.call('SET', KEYS[1], '0')
  return 0
end
return redis.call('DECRBY', KEYS[1], n)
`)

func hourKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }
func dayStatKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Increment records one message entering status at timestamp ts.
func (s *Store) Increment(ctx context.Context, status message.Status, ts time.Time) error {
	pipe := s.rdb.Pipeline()
	pipe.Incr(ctx, statGaugePrefix+string(status))
	if status == message.StatusCreated {
		pipe.Incr(ctx, totalGaugeKey)
		pipe.Incr(ctx, statHourPrefix+hourKey(ts))
		pipe.Incr(ctx, statDayPrefix+dayStatKey(ts)+":incoming")
	}
	if status == message.StatusSent {
		pipe.Incr(ctx, statDayPrefix+dayStatKey(ts)+":sent")
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Decrement records one message leaving status as of timestamp ts.
func (s *Store) Decrement(ctx context.Context, status message.Status, _ time.Time) error {
	return decrClampScript.Run(ctx, s.rdb, []string{statGaugePrefix + string(status)}).Err()
}

// decrGaugeBy decrements status's live gauge by n in one round trip, clamped
// at zero. Used by Reset, which removes many messages from a single status
// at once rather than one at a time.
func decrGaugeBy(ctx context.Context, rdb goredis.UniversalClient, status message.Status, n int64) error {
	if n <= 0 {
		return nil
	}
	return decrByClampScript.Run(ctx, rdb, []string{statGaugePrefix + string(status)}, n).Err()
}

// Get returns the current stats snapshot.
func (s *Store) Get(ctx context.Context) (stats.Snapshot, error) {
	allStatuses := message.AllStatuses()
	gaugeKeys := make([]string, len(allStatuses))
	for i, st := range allStatuses {
		gaugeKeys[i] = statGaugePrefix + string(st)
	}

	gaugeVals, err := s.rdb.MGet(ctx, gaugeKeys...).Result()
	if err != nil {
		return stats.Snapshot{}, err
	}
	byStatus := make(map[message.Status]int64, len(allStatuses))
	for i, st := range allStatuses {
		byStatus[st] = parseCounter(gaugeVals[i])
	}

	totalRaw, err := s.rdb.Get(ctx, totalGaugeKey).Result()
	if err != nil && !isRedisNil(err) {
		return stats.Snapshot{}, err
	}
	total, _ := strconv.ParseInt(totalRaw, 10, 64)

	now := time.Now().UTC()

	hourKeys := make([]string, 24)
	hourLabels := make([]string, 24)
	for i := 23; i >= 0; i-- {
		slot := now.Add(-time.Duration(i) * time.Hour)
		label := hourKey(slot)
		hourKeys[23-i] = statHourPrefix + label
		hourLabels[23-i] = label
	}
	hourVals, err := s.rdb.MGet(ctx, hourKeys...).Result()
	if err != nil {
		return stats.Snapshot{}, err
	}
	hourly := make(map[string]int64, 24)
	for i, label := range hourLabels {
		hourly[label] = parseCounter(hourVals[i])
	}

	dayLabels := make([]string, 7)
	incomingKeys := make([]string, 7)
	sentKeys := make([]string, 7)
	for i := 6; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		label := dayStatKey(day)
		dayLabels[6-i] = label
		incomingKeys[6-i] = statDayPrefix + label + ":incoming"
		sentKeys[6-i] = statDayPrefix + label + ":sent"
	}
	incomingVals, err := s.rdb.MGet(ctx, incomingKeys...).Result()
	if err != nil {
		return stats.Snapshot{}, err
	}
	sentVals, err := s.rdb.MGet(ctx, sentKeys...).Result()
	if err != nil {
		return stats.Snapshot{}, err
	}
	dailyIncoming := make(map[string]int64, 7)
	dailySent := make(map[string]int64, 7)
	for i, label := range dayLabels {
		dailyIncoming[label] = parseCounter(incomingVals[i])
		dailySent[label] = parseCounter(sentVals[i])
	}

	return stats.BuildSnapshot(now, total, byStatus, hourly, dailyIncoming, dailySent), nil
}

func parseCounter(v any) int64 {
	if v == nil {
		return 0
	}
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}

// InitializeFromMessages rebuilds every counter from scratch, the documented
// recovery path after a crash between a message write and a counter write.
func (s *Store) InitializeFromMessages(ctx context.Context, messages []*message.Message) error {
	if err := s.clearStatKeys(ctx); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	for _, m := range messages {
		pipe.Incr(ctx, statGaugePrefix+string(m.Status))
		pipe.Incr(ctx, totalGaugeKey)
		pipe.Incr(ctx, statHourPrefix+hourKey(m.CreatedAt))
		pipe.Incr(ctx, statDayPrefix+dayStatKey(m.CreatedAt)+":incoming")
		if m.Status == message.StatusSent && m.DeliveredAt != nil {
			pipe.Incr(ctx, statDayPrefix+dayStatKey(*m.DeliveredAt)+":sent")
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) clearStatKeys(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "done:stat:*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
