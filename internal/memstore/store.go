// Package memstore keeps conversation context and pending receipt batches
// in process memory. It backs local runs and single-instance deployments;
// the DynamoDB state store is used on Lambda.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"expense-agent/internal/domain"
)

const (
	DefaultContextTTL = 24 * time.Hour
	DefaultBatchTTL   = 30 * time.Minute
	DefaultMaxBatches = 1000

	cleanupInterval = 10 * time.Minute
)

// Options bound the lifetime and number of retained entries.
type Options struct {
	ContextTTL time.Duration
	BatchTTL   time.Duration
	MaxBatches int
	// Now is the clock used for expiry checks.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ContextTTL <= 0 {
		o.ContextTTL = DefaultContextTTL
	}
	if o.BatchTTL <= 0 {
		o.BatchTTL = DefaultBatchTTL
	}
	if o.MaxBatches <= 0 {
		o.MaxBatches = DefaultMaxBatches
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type entry struct {
	value     any
	seq       uint64
	expiresAt time.Time
}

// queued records a batch insertion. An element whose seq no longer matches
// the cached entry is stale and skipped on eviction.
type queued struct {
	id  string
	seq uint64
}

// Store implements the context and batch stores. Contexts and batches live
// in separate caches so the batch cap never scans context entries; the
// cache janitor sweeps both after their TTL.
type Store struct {
	mu       sync.Mutex
	contexts *cache.Cache
	batches  *cache.Cache
	order    []queued
	seq      uint64
	opts     Options
}

func New(opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		contexts: cache.New(cache.NoExpiration, cleanupInterval),
		batches:  cache.New(cache.NoExpiration, cleanupInterval),
		opts:     opts,
	}
}

func (s *Store) PutContext(_ context.Context, key string, c domain.ExpenseContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(s.contexts, key, c, s.opts.ContextTTL)
	return nil
}

func (s *Store) GetContext(_ context.Context, key string) (*domain.ExpenseContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(s.contexts, key)
	if !ok {
		return nil, nil
	}
	c := v.(domain.ExpenseContext)
	return &c, nil
}

// PutBatch stores b, evicting the oldest batches beyond MaxBatches.
// Replacing a stored batch keeps its place in the eviction order.
func (s *Store) PutBatch(_ context.Context, b domain.PendingReceiptBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, exists := s.batches.Get(b.ID); exists {
		s.setSeq(s.batches, b.ID, b, s.opts.BatchTTL, raw.(entry).seq)
		return nil
	}
	// ItemCount includes expired entries the janitor has not swept yet.
	for s.batches.ItemCount() >= s.opts.MaxBatches {
		if !s.evictOldestBatch() {
			break
		}
	}
	seq := s.set(s.batches, b.ID, b, s.opts.BatchTTL)
	s.order = append(s.order, queued{id: b.ID, seq: seq})
	s.compactOrder()
	return nil
}

func (s *Store) TakeBatch(_ context.Context, id, conversationKey string) (*domain.PendingReceiptBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batch(id, conversationKey)
	if !ok {
		return nil, nil
	}
	s.batches.Delete(id)
	return &b, nil
}

func (s *Store) DeleteBatch(_ context.Context, id, conversationKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batch(id, conversationKey); !ok {
		return false, nil
	}
	s.batches.Delete(id)
	return true, nil
}

func (s *Store) batch(id, conversationKey string) (domain.PendingReceiptBatch, bool) {
	v, ok := s.get(s.batches, id)
	if !ok {
		return domain.PendingReceiptBatch{}, false
	}
	b := v.(domain.PendingReceiptBatch)
	if b.ConversationKey != conversationKey {
		return domain.PendingReceiptBatch{}, false
	}
	return b, true
}

func (s *Store) set(c *cache.Cache, key string, v any, ttl time.Duration) uint64 {
	s.seq++
	s.setSeq(c, key, v, ttl, s.seq)
	return s.seq
}

func (s *Store) setSeq(c *cache.Cache, key string, v any, ttl time.Duration, seq uint64) {
	c.Set(key, entry{value: v, seq: seq, expiresAt: s.opts.Now().Add(ttl)}, ttl)
}

// get treats entries past their expiry on the injected clock as absent.
func (s *Store) get(c *cache.Cache, key string) (any, bool) {
	raw, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if !s.opts.Now().Before(e.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return e.value, true
}

// evictOldestBatch drops the earliest inserted batch still stored. It
// reports false once the order queue is exhausted.
func (s *Store) evictOldestBatch() bool {
	for len(s.order) > 0 {
		q := s.order[0]
		s.order = s.order[1:]
		if s.live(q) {
			s.batches.Delete(q.id)
			return true
		}
	}
	return false
}

func (s *Store) live(q queued) bool {
	raw, ok := s.batches.Get(q.id)
	return ok && raw.(entry).seq == q.seq
}

// compactOrder drops taken or expired batches from the queue once it
// outgrows the cap, keeping its length proportional to MaxBatches.
func (s *Store) compactOrder() {
	if len(s.order) <= 2*s.opts.MaxBatches {
		return
	}
	kept := make([]queued, 0, s.batches.ItemCount())
	for _, q := range s.order {
		if s.live(q) {
			kept = append(kept, q)
		}
	}
	s.order = kept
}
