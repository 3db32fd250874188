package timetable

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrDraftNotFound = errors.New("draft_not_found")

// DraftStore keeps drafts between requests. Entries expire after the configured TTL.
type DraftStore interface {
	Get(ctx context.Context, id string) (*Draft, error)
	Put(ctx context.Context, draft *Draft) error
	Delete(ctx context.Context, id string) error
}

type memoryDraft struct {
	data      []byte
	expiresAt time.Time
}

type MemoryDrafts struct {
	mu     sync.Mutex
	ttl    time.Duration
	drafts map[string]memoryDraft
	now    func() time.Time
}

func NewMemoryDrafts(ttl time.Duration) *MemoryDrafts {
	return &MemoryDrafts{ttl: ttl, drafts: map[string]memoryDraft{}, now: time.Now}
}

func (m *MemoryDrafts) Get(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	if m.ttl > 0 && m.now().After(stored.expiresAt) {
		delete(m.drafts, id)
		return nil, ErrDraftNotFound
	}
	var draft Draft
	if err := json.Unmarshal(stored.data, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (m *MemoryDrafts) Put(_ context.Context, draft *Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[draft.ID] = memoryDraft{data: data, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Sweep drops every expired draft and returns how many were removed.
func (m *MemoryDrafts) Sweep(_ context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, stored := range m.drafts {
		if now.After(stored.expiresAt) {
			delete(m.drafts, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryDrafts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

type RedisDrafts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDrafts(client *redis.Client, ttl time.Duration) *RedisDrafts {
	return &RedisDrafts{client: client, ttl: ttl}
}

func draftKey(id string) string {
	return "timetable:draft:" + id
}

func (r *RedisDrafts) Get(ctx context.Context, id string) (*Draft, error) {
	value, err := r.client.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	var draft Draft
	if err := json.Unmarshal(value, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *RedisDrafts) Put(ctx context.Context, draft *Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, draftKey(draft.ID), data, r.ttl).Err()
}

func (r *RedisDrafts) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, draftKey(id)).Err()
}
