package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/logstore"
)

func (s *Store) insertLog(ctx context.Context, action logstore.Action, messageID id.ID, before, after json.RawMessage) error {
	entry := logstore.New(action, "messages", messageID, before, after)
	return s.storeLog(ctx, entry)
}

func (s *Store) storeLog(ctx context.Context, entry logstore.Entry) error {
	key := entityKey(prefixLog, entry.ID.String())
	if err := s.setEntity(ctx, key, &entry); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zLogsAll, goredis.Z{Score: scoreFromTime(entry.CreatedAt), Member: entry.ID.String()})
	pipe.ZAdd(ctx, zLogsByMessage+entry.MessageID.String(), goredis.Z{Score: scoreFromTime(entry.CreatedAt), Member: entry.ID.String()})
	_, err := pipe.Exec(ctx)
	return err
}

// Append adds a pre-built log entry (used by callers outside the message
// mutation path, e.g. manual admin actions).
func (s *Store) Append(ctx context.Context, entry logstore.Entry) error {
	return s.storeLog(ctx, entry)
}

// FetchByMessageID returns every entry for messageID, ascending by CreatedAt.
func (s *Store) FetchByMessageID(ctx context.Context, messageID id.ID) ([]logstore.Entry, error) {
	ids, err := s.rdb.ZRange(ctx, zLogsByMessage+messageID.String(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchLogs(ctx, ids)
}

// FetchAll returns up to limit entries across all messages, descending by CreatedAt.
func (s *Store) FetchAll(ctx context.Context, limit int) ([]logstore.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, zLogsAll, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchLogs(ctx, ids)
}

func (s *Store) fetchLogs(ctx context.Context, ids []string) ([]logstore.Entry, error) {
	if len(ids) == 0 {
		return []logstore.Entry{}, nil
	}
	keys := make([]string, len(ids))
	for i, rawID := range ids {
		keys[i] = entityKey(prefixLog, rawID)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]logstore.Entry, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var entry logstore.Entry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}

// Truncate deletes every log entry and the all-logs index. The per-message
// index sets keep their member ids; FetchByMessageID skips ids whose entry
// is gone.
func (s *Store) Truncate(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, zLogsAll, 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	for _, rawID := range ids {
		pipe.Del(ctx, entityKey(prefixLog, rawID))
	}
	pipe.Del(ctx, zLogsAll)
	_, err = pipe.Exec(ctx)
	return err
}
