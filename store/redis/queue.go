package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/queue"
)

// defaultDequeueLimit bounds an unlimited Dequeue call to a single batch,
// matching the Daily Activator's fetch batch size.
const defaultDequeueLimit = 500

// dequeueScript atomically claims due events from the pending sorted set:
// members scoring at or below the cutoff are popped in one round trip, so
// two concurrent callers never observe the same event.
// KEYS[1] = zQueuePending
// ARGV[1] = current score cutoff
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, v in ipairs(ids) do
    redis.call('ZREM', KEYS[1], v)
end
return ids
`)

// Enqueue persists evt, visible for consumption after delay has elapsed.
func (s *Store) Enqueue(ctx context.Context, evt queue.Event, delay time.Duration) error {
	visibleAt := time.Now().UTC()
	if delay > 0 {
		visibleAt = visibleAt.Add(delay)
	}

	key := entityKey(prefixQueue, evt.ID.String())
	if err := s.setEntity(ctx, key, &evt); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, zQueuePending, goredis.Z{Score: scoreFromTime(visibleAt), Member: evt.ID.String()}).Err()
}

// Dequeue claims up to limit visible events via dequeueScript.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]queue.Event, error) {
	if limit <= 0 {
		limit = defaultDequeueLimit
	}

	raw, err := dequeueScript.Run(ctx, s.rdb, []string{zQueuePending}, scoreFromTime(time.Now().UTC()), limit).Result()
	if err != nil && !isRedisNil(err) {
		return nil, err
	}

	claimed, _ := raw.([]any)
	if len(claimed) == 0 {
		return []queue.Event{}, nil
	}

	events := make([]queue.Event, 0, len(claimed))
	for _, v := range claimed {
		rawID, ok := v.(string)
		if !ok {
			continue
		}
		var evt queue.Event
		if err := s.getEntity(ctx, entityKey(prefixQueue, rawID), &evt); err != nil {
			if isRedisNil(err) {
				continue // claimed but already acked/expired; skip
			}
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// Ack removes eventID from the queue.
func (s *Store) Ack(ctx context.Context, eventID id.ID) error {
	return s.rdb.Del(ctx, entityKey(prefixQueue, eventID.String())).Err()
}
