// Package memory provides an in-memory Store implementation for tests and
// single-process deployments without external dependencies.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/logstore"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	"github.com/dnlfm/done/stats"
	"github.com/dnlfm/done/store"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

type dayCounts struct {
	incoming int64
	sent     int64
}

type queueEntry struct {
	evt       queue.Event
	visibleAt time.Time
	claimed   bool
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	messages map[string]*message.Message // keyed by ID string

	logs []logstore.Entry

	byStatus    map[message.Status]int64
	total       int64
	hourBuckets map[string]int64
	dayBuckets  map[string]*dayCounts

	queueEvents map[string]*queueEntry // keyed by event ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages:    make(map[string]*message.Message),
		byStatus:    make(map[message.Status]int64),
		hourBuckets: make(map[string]int64),
		dayBuckets:  make(map[string]*dayCounts),
		queueEvents: make(map[string]*queueEntry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// message.Store
// ──────────────────────────────────────────────────

func copyMessage(m *message.Message) *message.Message {
	cp := *m
	if m.RetryAt != nil {
		t := *m.RetryAt
		cp.RetryAt = &t
	}
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		cp.DeliveredAt = &t
	}
	cp.LastErrors = append([]message.DeliveryError(nil), m.LastErrors...)
	return &cp
}

// Create persists a brand new message and bumps the stats cell of its status.
func (s *Store) Create(_ context.Context, msg *message.Message, opts ...message.CreateOption) (*message.Message, queue.Event, error) {
	var o message.CreateOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.ID.String()
	if _, ok := s.messages[key]; ok {
		return nil, queue.Event{}, message.ErrDuplicateID
	}

	now := time.Now().UTC()
	if !o.PreserveTimestamps {
		msg.CreatedAt = now
		msg.UpdatedAt = now
	}

	stored := copyMessage(msg)
	s.messages[key] = stored
	s.bumpStatusLocked(stored.Status, stored.CreatedAt, true)

	evt, err := s.storeEvent(queue.StoreCreateEvent, nil, stored)
	if err != nil {
		return nil, queue.Event{}, err
	}
	s.appendLog(logstore.ActionCreate, stored.ID, nil, stored)
	return copyMessage(stored), evt, nil
}

// FetchOne returns a single message by ID.
func (s *Store) FetchOne(_ context.Context, messageID id.ID) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID.String()]
	if !ok {
		return nil, message.ErrNotFound
	}
	return copyMessage(m), nil
}

// FetchByStatus lists messages in the given status, newest first.
func (s *Store) FetchByStatus(_ context.Context, status message.Status, filter message.ListFilter) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*message.Message, 0)
	for _, m := range s.messages {
		if m.Status != status {
			continue
		}
		if filter.Before != nil && !m.PublishAt.Before(*filter.Before) {
			continue
		}
		result = append(result, copyMessage(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return limitMessages(result, filter.Limit), nil
}

// FetchByDate lists messages whose PublishAt falls on date's UTC calendar day.
func (s *Store) FetchByDate(_ context.Context, date time.Time, filter message.ListFilter) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, mo, d := date.UTC().Date()
	result := make([]*message.Message, 0)
	for _, m := range s.messages {
		py, pmo, pd := m.PublishAt.UTC().Date()
		if py != y || pmo != mo || pd != d {
			continue
		}
		if filter.Before != nil && !m.PublishAt.Before(*filter.Before) {
			continue
		}
		result = append(result, copyMessage(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PublishAt.Before(result[j].PublishAt) })
	return limitMessages(result, filter.Limit), nil
}

// Update applies patch to messageID's message, validating the status
// transition and adjusting the stats cell in lockstep.
func (s *Store) Update(_ context.Context, messageID id.ID, patch message.Patch) (*message.Message, queue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID.String()]
	if !ok {
		return nil, queue.Event{}, message.ErrNotFound
	}

	before := copyMessage(m)
	oldStatus := m.Status

	if patch.Status != nil && !message.ValidTransition(oldStatus, *patch.Status) {
		return nil, queue.Event{}, message.ErrInvalidTransition
	}

	now := time.Now().UTC()
	patch.Apply(m, now)

	if patch.Status != nil && *patch.Status != oldStatus {
		s.bumpStatusLocked(oldStatus, now, false)
		s.bumpStatusLocked(*patch.Status, now, true)
	}

	evt, err := s.storeEvent(queue.StoreUpdateEvent, before, m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	s.appendLog(logstore.ActionUpdate, m.ID, before, m)
	return copyMessage(m), evt, nil
}

// Delete removes a message, decrementing its current status cell. The
// all-time total counter is never decremented (spec §4.2).
func (s *Store) Delete(_ context.Context, messageID id.ID) (*message.Message, queue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID.String()]
	if !ok {
		return nil, queue.Event{}, message.ErrNotFound
	}

	now := time.Now().UTC()
	s.bumpStatusLocked(m.Status, now, false)
	delete(s.messages, messageID.String())

	evt, err := s.storeEvent(queue.StoreDeleteEvent, m, nil)
	if err != nil {
		return nil, queue.Event{}, err
	}
	s.appendLog(logstore.ActionDelete, m.ID, m, nil)
	return copyMessage(m), evt, nil
}

// Reset deletes every message whose ID contains match (empty matches all),
// decrementing each deleted message's status cell in lockstep so the
// per-status counters stay reconciled with what remains in the store.
func (s *Store) Reset(_ context.Context, match string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for key, m := range s.messages {
		if match != "" && !strings.Contains(key, match) {
			continue
		}
		s.bumpStatusLocked(m.Status, now, false)
		delete(s.messages, key)
	}
	return nil
}

// Raw returns messages matching the optional filter for admin inspection.
func (s *Store) Raw(_ context.Context, match string, limit int) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*message.Message, 0)
	for key, m := range s.messages {
		if match != "" && !strings.Contains(key, match) {
			continue
		}
		result = append(result, copyMessage(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return limitMessages(result, limit), nil
}

func limitMessages(ms []*message.Message, limit int) []*message.Message {
	if limit > 0 && limit < len(ms) {
		return ms[:limit]
	}
	return ms
}

// storeEvent builds the STORE_*_EVENT payload for a mutation.
func (s *Store) storeEvent(typ queue.EventType, before, after *message.Message) (queue.Event, error) {
	var beforeRaw, afterRaw json.RawMessage
	var err error
	if before != nil {
		if beforeRaw, err = json.Marshal(before); err != nil {
			return queue.Event{}, err
		}
	}
	if after != nil {
		if afterRaw, err = json.Marshal(after); err != nil {
			return queue.Event{}, err
		}
	}
	return queue.New(typ, queue.ObjectMessages, queue.StoreEventPayload{Before: beforeRaw, After: afterRaw})
}

func (s *Store) appendLog(action logstore.Action, messageID id.ID, before, after *message.Message) {
	var beforeRaw, afterRaw json.RawMessage
	if before != nil {
		beforeRaw, _ = json.Marshal(before)
	}
	if after != nil {
		afterRaw, _ = json.Marshal(after)
	}
	s.logs = append(s.logs, logstore.New(action, queue.ObjectMessages, messageID, beforeRaw, afterRaw))
}

// ──────────────────────────────────────────────────
// logstore.Store
// ──────────────────────────────────────────────────

// Append adds a pre-built log entry (used by callers outside the message
// mutation path, e.g. manual admin actions).
func (s *Store) Append(_ context.Context, entry logstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// FetchByMessageID returns every log entry for messageID, ascending by CreatedAt.
func (s *Store) FetchByMessageID(_ context.Context, messageID id.ID) ([]logstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]logstore.Entry, 0)
	for _, e := range s.logs {
		if e.MessageID.String() == messageID.String() {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// FetchAll returns up to limit log entries, descending by CreatedAt.
func (s *Store) FetchAll(_ context.Context, limit int) ([]logstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]logstore.Entry, len(s.logs))
	copy(result, s.logs)
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Truncate deletes every log entry.
func (s *Store) Truncate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	return nil
}

// ──────────────────────────────────────────────────
// stats.Store
// ──────────────────────────────────────────────────

func dayKeyOf(t time.Time) string  { return t.UTC().Format(dayLayout) }
func hourKeyOf(t time.Time) string { return t.UTC().Format(hourLayout) }

// bumpStatusLocked adjusts the live per-status gauge and, on entry to
// CREATED/SENT, the hourly/daily historical buckets. Caller must hold mu.
func (s *Store) bumpStatusLocked(status message.Status, ts time.Time, entering bool) {
	if entering {
		s.byStatus[status]++
	} else if s.byStatus[status] > 0 {
		s.byStatus[status]--
	}
	if !entering {
		return
	}
	switch status {
	case message.StatusCreated:
		s.total++
		s.hourBuckets[hourKeyOf(ts)]++
		s.dayBucket(ts).incoming++
	case message.StatusSent:
		s.dayBucket(ts).sent++
	}
}

// Increment records one message entering status at timestamp ts.
func (s *Store) Increment(_ context.Context, status message.Status, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byStatus[status]++
	if status == message.StatusCreated {
		s.total++
		s.hourBuckets[hourKeyOf(ts)]++
		s.dayBucket(ts).incoming++
	}
	if status == message.StatusSent {
		s.dayBucket(ts).sent++
	}
	return nil
}

// Decrement records one message leaving status as of timestamp ts.
func (s *Store) Decrement(_ context.Context, status message.Status, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byStatus[status] > 0 {
		s.byStatus[status]--
	}
	return nil
}

func (s *Store) dayBucket(ts time.Time) *dayCounts {
	key := dayKeyOf(ts)
	b, ok := s.dayBuckets[key]
	if !ok {
		b = &dayCounts{}
		s.dayBuckets[key] = b
	}
	return b
}

// Get returns the current stats snapshot.
func (s *Store) Get(_ context.Context) (stats.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dailyIncoming := make(map[string]int64, len(s.dayBuckets))
	dailySent := make(map[string]int64, len(s.dayBuckets))
	for key, b := range s.dayBuckets {
		dailyIncoming[key] = b.incoming
		dailySent[key] = b.sent
	}

	return stats.BuildSnapshot(time.Now().UTC(), s.total, s.byStatus, s.hourBuckets, dailyIncoming, dailySent), nil
}

// InitializeFromMessages rebuilds every counter from scratch.
func (s *Store) InitializeFromMessages(_ context.Context, messages []*message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byStatus = make(map[message.Status]int64)
	s.hourBuckets = make(map[string]int64)
	s.dayBuckets = make(map[string]*dayCounts)
	s.total = 0

	for _, m := range messages {
		s.byStatus[m.Status]++
		s.total++
		s.hourBuckets[hourKeyOf(m.CreatedAt)]++
		s.dayBucket(m.CreatedAt).incoming++
		if m.Status == message.StatusSent && m.DeliveredAt != nil {
			s.dayBucket(*m.DeliveredAt).sent++
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// queue.Queue
// ──────────────────────────────────────────────────

// Enqueue persists evt, visible for consumption after delay has elapsed.
func (s *Store) Enqueue(_ context.Context, evt queue.Event, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	visibleAt := time.Now().UTC()
	if delay > 0 {
		visibleAt = visibleAt.Add(delay)
	}
	s.queueEvents[evt.ID.String()] = &queueEntry{evt: evt, visibleAt: visibleAt}
	return nil
}

// Dequeue claims up to limit visible, unclaimed events.
func (s *Store) Dequeue(_ context.Context, limit int) ([]queue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	candidates := make([]*queueEntry, 0, len(s.queueEvents))
	for _, qe := range s.queueEvents {
		if qe.claimed || qe.visibleAt.After(now) {
			continue
		}
		candidates = append(candidates, qe)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].evt.CreatedAt.Before(candidates[j].evt.CreatedAt)
	})
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]queue.Event, 0, len(candidates))
	for _, qe := range candidates {
		qe.claimed = true
		result = append(result, qe.evt)
	}
	return result, nil
}

// Ack removes eventID from the queue.
func (s *Store) Ack(_ context.Context, eventID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queueEvents, eventID.String())
	return nil
}
