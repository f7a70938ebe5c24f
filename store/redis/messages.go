package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/logstore"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
)

func dateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Create persists a brand new message and indexes it by status and publish date.
func (s *Store) Create(ctx context.Context, msg *message.Message, opts ...message.CreateOption) (*message.Message, queue.Event, error) {
	var o message.CreateOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := entityKey(prefixMessage, msg.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, queue.Event{}, err
	}
	if exists > 0 {
		return nil, queue.Event{}, message.ErrDuplicateID
	}

	now := time.Now().UTC()
	if !o.PreserveTimestamps {
		msg.CreatedAt = now
		msg.UpdatedAt = now
	}

	if err := s.setEntity(ctx, key, msg); err != nil {
		return nil, queue.Event{}, err
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zMessagesAll, goredis.Z{Score: scoreFromTime(msg.CreatedAt), Member: msg.ID.String()})
	pipe.ZAdd(ctx, zMessagesByStatus+string(msg.Status), goredis.Z{Score: scoreFromTime(msg.CreatedAt), Member: msg.ID.String()})
	pipe.ZAdd(ctx, zMessagesByDate+dateKey(msg.PublishAt), goredis.Z{Score: scoreFromTime(msg.PublishAt), Member: msg.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, queue.Event{}, err
	}

	after, err := json.Marshal(msg)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := s.insertLog(ctx, logstore.ActionCreate, msg.ID, nil, after); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreCreateEvent, queue.ObjectMessages, queue.StoreEventPayload{After: after})
	if err != nil {
		return nil, queue.Event{}, err
	}
	return msg, evt, nil
}

// FetchOne returns a single message by ID.
func (s *Store) FetchOne(ctx context.Context, messageID id.ID) (*message.Message, error) {
	var m message.Message
	err := s.getEntity(ctx, entityKey(prefixMessage, messageID.String()), &m)
	if isRedisNil(err) {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) fetchByIDs(ctx context.Context, ids []string) ([]*message.Message, error) {
	if len(ids) == 0 {
		return []*message.Message{}, nil
	}
	keys := make([]string, len(ids))
	for i, rawID := range ids {
		keys[i] = entityKey(prefixMessage, rawID)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*message.Message, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue // index entry outlived the entity (concurrent delete); skip
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var m message.Message
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	return result, nil
}

// FetchByStatus lists messages in the given status, newest first.
func (s *Store) FetchByStatus(ctx context.Context, status message.Status, filter message.ListFilter) ([]*message.Message, error) {
	ids, err := s.rdb.ZRevRange(ctx, zMessagesByStatus+string(status), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*message.Message, 0, len(msgs))
	for _, m := range msgs {
		if filter.Before != nil && !m.PublishAt.Before(*filter.Before) {
			continue
		}
		result = append(result, m)
	}
	return limitMessages(result, filter.Limit), nil
}

// FetchByDate lists messages whose PublishAt falls on date's UTC calendar day.
func (s *Store) FetchByDate(ctx context.Context, date time.Time, filter message.ListFilter) ([]*message.Message, error) {
	ids, err := s.rdb.ZRange(ctx, zMessagesByDate+dateKey(date), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*message.Message, 0, len(msgs))
	for _, m := range msgs {
		if filter.Before != nil && !m.PublishAt.Before(*filter.Before) {
			continue
		}
		result = append(result, m)
	}
	return limitMessages(result, filter.Limit), nil
}

func limitMessages(ms []*message.Message, limit int) []*message.Message {
	if limit > 0 && limit < len(ms) {
		return ms[:limit]
	}
	return ms
}

// Update applies patch to messageID's message, validating the status
// transition and moving its status-index membership in lockstep.
func (s *Store) Update(ctx context.Context, messageID id.ID, patch message.Patch) (*message.Message, queue.Event, error) {
	key := entityKey(prefixMessage, messageID.String())

	var m message.Message
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return nil, queue.Event{}, message.ErrNotFound
		}
		return nil, queue.Event{}, err
	}

	before, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	oldStatus := m.Status

	if patch.Status != nil && !message.ValidTransition(oldStatus, *patch.Status) {
		return nil, queue.Event{}, message.ErrInvalidTransition
	}

	now := time.Now().UTC()
	patch.Apply(&m, now)

	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, queue.Event{}, err
	}

	if patch.Status != nil && *patch.Status != oldStatus {
		pipe := s.rdb.Pipeline()
		pipe.ZRem(ctx, zMessagesByStatus+string(oldStatus), messageID.String())
		pipe.ZAdd(ctx, zMessagesByStatus+string(*patch.Status), goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: messageID.String()})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, queue.Event{}, err
		}
	}

	after, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := s.insertLog(ctx, logstore.ActionUpdate, m.ID, before, after); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreUpdateEvent, queue.ObjectMessages, queue.StoreEventPayload{Before: before, After: after})
	if err != nil {
		return nil, queue.Event{}, err
	}
	return &m, evt, nil
}

// Delete removes a message and its index entries.
func (s *Store) Delete(ctx context.Context, messageID id.ID) (*message.Message, queue.Event, error) {
	key := entityKey(prefixMessage, messageID.String())

	var m message.Message
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return nil, queue.Event{}, message.ErrNotFound
		}
		return nil, queue.Event{}, err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, zMessagesAll, messageID.String())
	pipe.ZRem(ctx, zMessagesByStatus+string(m.Status), messageID.String())
	pipe.ZRem(ctx, zMessagesByDate+dateKey(m.PublishAt), messageID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, queue.Event{}, err
	}

	before, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := s.insertLog(ctx, logstore.ActionDelete, m.ID, before, nil); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreDeleteEvent, queue.ObjectMessages, queue.StoreEventPayload{Before: before})
	if err != nil {
		return nil, queue.Event{}, err
	}
	return &m, evt, nil
}

// Reset deletes every message whose ID contains match (empty matches all),
// along with their index entries, decrementing each deleted message's
// status gauge in lockstep so the per-status counters stay reconciled with
// what remains in the store.
func (s *Store) Reset(ctx context.Context, match string) error {
	ids, err := s.rdb.ZRange(ctx, zMessagesAll, 0, -1).Result()
	if err != nil {
		return err
	}

	deletedByStatus := make(map[message.Status]int64)
	for _, rawID := range ids {
		if match != "" && !strings.Contains(rawID, match) {
			continue
		}
		var m message.Message
		if err := s.getEntity(ctx, entityKey(prefixMessage, rawID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return err
		}
		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixMessage, rawID))
		pipe.ZRem(ctx, zMessagesAll, rawID)
		pipe.ZRem(ctx, zMessagesByStatus+string(m.Status), rawID)
		pipe.ZRem(ctx, zMessagesByDate+dateKey(m.PublishAt), rawID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		deletedByStatus[m.Status]++
	}

	for status, n := range deletedByStatus {
		if err := decrGaugeBy(ctx, s.rdb, status, n); err != nil {
			return err
		}
	}
	return nil
}

// Raw returns messages matching the optional filter for admin inspection.
func (s *Store) Raw(ctx context.Context, match string, limit int) ([]*message.Message, error) {
	ids, err := s.rdb.ZRevRange(ctx, zMessagesAll, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if match != "" {
		filtered := ids[:0:0]
		for _, rawID := range ids {
			if strings.Contains(rawID, match) {
				filtered = append(filtered, rawID)
			}
		}
		ids = filtered
	}

	result, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return limitMessages(result, limit), nil
}
