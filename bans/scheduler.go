// Package bans lifts address bans after their duration and, optionally,
// persists pending expiries so timed bans survive a restart.
package bans

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/patrickmn/go-cache"
)

// storeTimeout bounds each call into the persistent store.
const storeTimeout = 3 * time.Second

// Target is the ban list the scheduler maintains.
type Target interface {
	Ban(addr string) bool
	Unban(addr string) bool
}

// Store persists pending ban expiries.
type Store interface {
	// Save records that addr is banned for ttl from now.
	Save(ctx context.Context, addr string, ttl time.Duration) error
	// Delete forgets addr.
	Delete(ctx context.Context, addr string) error
	// Load returns every stored address with its remaining ban time.
	Load(ctx context.Context) (map[string]time.Duration, error)
}

// Pending is one scheduled expiry.
type Pending struct {
	Addr  string
	Until time.Time
}

type entry struct {
	mu        sync.Mutex
	cancelled bool
}

func (e *entry) cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
}

func (e *entry) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore persists scheduled expiries to store.
func WithStore(store Store) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// Scheduler keeps one cache item per timed ban. The cache janitor evicts an
// item once its ban is over and the eviction lifts the ban.
type Scheduler struct {
	cache  *cache.Cache
	target Target
	store  Store
	logger logger.Logger
}

// NewScheduler creates a Scheduler.
//
// Parameters:
//   - target: The ban list to lift bans from
//   - sweep: How often expired bans are looked for
//   - log: Logger
//   - opts: Optional settings
//
// Returns:
//   - A new Scheduler
func NewScheduler(target Target, sweep time.Duration, log logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cache:  cache.New(cache.NoExpiration, sweep),
		target: target,
		logger: log.For(logger.UserEvent),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache.OnEvicted(s.evicted)
	return s
}

// Schedule lifts the ban on addr after the given duration. Scheduling an
// address again replaces its previous expiry.
func (s *Scheduler) Schedule(addr string, after time.Duration) {
	s.cache.Set(addr, &entry{}, after)

	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Save(ctx, addr, after); err != nil {
		s.logger.Warn("failed to persist ban", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
	}
}

// Cancel drops the scheduled expiry of addr without lifting the ban.
//
// Returns:
//   - true if an expiry was scheduled
func (s *Scheduler) Cancel(addr string) bool {
	v, ok := s.cache.Get(addr)
	if !ok {
		return false
	}

	v.(*entry).cancel()
	s.cache.Delete(addr)
	s.forget(addr)
	return true
}

// Lift removes the ban on addr now and drops any scheduled expiry.
//
// Returns:
//   - true if addr was banned
func (s *Scheduler) Lift(addr string) bool {
	s.Cancel(addr)
	return s.target.Unban(addr)
}

// Pending returns the scheduled expiries ordered by time.
func (s *Scheduler) Pending() []Pending {
	items := s.cache.Items()
	out := make([]Pending, 0, len(items))
	for addr, item := range items {
		out = append(out, Pending{Addr: addr, Until: time.Unix(0, item.Expiration)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Until.Equal(out[j].Until) {
			return out[i].Addr < out[j].Addr
		}
		return out[i].Until.Before(out[j].Until)
	})

	return out
}

// Restore re-applies the bans held by the store.
//
// Returns:
//   - The number of bans restored, or the store error
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	stored, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	for addr, ttl := range stored {
		s.target.Ban(addr)
		s.cache.Set(addr, &entry{}, ttl)
	}

	return len(stored), nil
}

func (s *Scheduler) evicted(addr string, v any) {
	if e, ok := v.(*entry); ok && e.isCancelled() {
		return
	}

	s.target.Unban(addr)
	s.forget(addr)
	s.logger.Info("ban expired", logger.Field{Key: "addr", Value: addr})
}

func (s *Scheduler) forget(addr string) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, addr); err != nil {
		s.logger.Warn("failed to delete persisted ban", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
	}
}
