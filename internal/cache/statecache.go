// Package cache holds the mutable hot fields of every not-yet-ended auction.
// It is the write-path source of truth while an auction is open: bids are
// accepted here first and replicated to the durable store asynchronously via
// the ledger. Entries are safe to lose; they rebuild from the last durable
// checkpoint plus un-drained ledger records.
package cache

import (
	"errors"
	"sync"

	"fairbid/internal/domain"
)

// ErrVersionConflict is returned by Commit when the entry changed after the
// caller's snapshot was taken. The bidding coordinator surfaces this as a
// RACE_LOST rejection.
var ErrVersionConflict = errors.New("state version conflict")

// ErrNotCached is returned when no entry exists for the auction id.
var ErrNotCached = errors.New("auction not cached")

// StateCache is an in-memory store keyed by auction id. Contention is scoped
// to a single auction: each entry carries its own lock, so a hot auction
// never blocks bids on others.
type StateCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state domain.AuctionState
}

// New creates an empty cache.
func New() *StateCache {
	return &StateCache{entries: make(map[string]*entry)}
}

// Put inserts or replaces the entry for the state's auction. Used for cache
// warming on creation and for rebuild after a restart.
func (c *StateCache) Put(state domain.AuctionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[state.AuctionID]; ok {
		e.mu.Lock()
		e.state = state
		e.mu.Unlock()
		return
	}
	c.entries[state.AuctionID] = &entry{state: state}
}

// Snapshot returns a copy of the current state for optimistic evaluation.
func (c *StateCache) Snapshot(auctionID string) (domain.AuctionState, bool) {
	c.mu.RLock()
	e, ok := c.entries[auctionID]
	c.mu.RUnlock()
	if !ok {
		return domain.AuctionState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Commit replaces the entry state if and only if its version still equals
// expect. sideEffect (the ledger append) runs inside the critical section;
// if it fails the state is left untouched, so a bid is never accepted
// without its ledger record. next.Version must already be bumped by the
// caller.
//
// The critical section covers only in-memory work plus the local ledger
// write; no network call ever happens under the entry lock.
func (c *StateCache) Commit(auctionID string, expect uint64, next domain.AuctionState, sideEffect func() error) error {
	c.mu.RLock()
	e, ok := c.entries[auctionID]
	c.mu.RUnlock()
	if !ok {
		return ErrNotCached
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Version != expect {
		return ErrVersionConflict
	}
	if sideEffect != nil {
		if err := sideEffect(); err != nil {
			return err
		}
	}
	e.state = next
	return nil
}

// Evict drops the entry once an auction reaches a terminal state; the
// durable store is authoritative from then on.
func (c *StateCache) Evict(auctionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, auctionID)
}

// Range calls fn with a snapshot of every entry until fn returns false.
// Used by the lifecycle sweep; entries are copied, never aliased.
func (c *StateCache) Range(fn func(domain.AuctionState) bool) {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		state := e.state
		e.mu.Unlock()
		if !fn(state) {
			return
		}
	}
}

// BidCount sums TotalBidCount across cached entries.
func (c *StateCache) BidCount() int64 {
	var total int64
	c.Range(func(s domain.AuctionState) bool {
		total += int64(s.TotalBidCount)
		return true
	})
	return total
}

// Len returns the number of cached auctions.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
