// Package service wires the hook engine's domain and adapter packages into
// the orchestrating Hook Manager, its Verdict Cache, and the ambient
// metrics/tracing concerns around both.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// cacheEntry is a doubly-linked list node for the Verdict Cache's LRU order.
type cacheEntry struct {
	key     uint64
	execID  hook.FileExecutionID
	verdict hook.Verdict
	weight  int
	prev    *cacheEntry
	next    *cacheEntry
}

// VerdictCacheOption configures a VerdictCache.
type VerdictCacheOption func(*VerdictCache)

// WithMaxEntries bounds the number of cached verdicts. Default 10000.
func WithMaxEntries(n int) VerdictCacheOption {
	return func(c *VerdictCache) { c.maxEntries = n }
}

// WithMaxWeight bounds the cumulative weight(key)+weight(value) the cache may
// hold at once. Default 64MiB-equivalent (64<<20 weight units).
func WithMaxWeight(n int) VerdictCacheOption {
	return func(c *VerdictCache) { c.maxWeight = n }
}

// WithHitMissRecorder registers callbacks invoked on every cache lookup,
// used to drive the hit/miss metrics in internal/service/metrics.go without
// coupling this package to Prometheus directly.
func WithHitMissRecorder(onHit, onMiss func()) VerdictCacheOption {
	return func(c *VerdictCache) { c.onHit, c.onMiss = onHit, onMiss }
}

// VerdictCache implements hook.VerdictCache: a bounded, weight-aware LRU
// cache over FileExecutionID, with singleflight coalescing so that N
// concurrent requests for the same (rule, changeset, file) pay for one
// computation.
type VerdictCache struct {
	mu         sync.Mutex
	entries    map[uint64]*cacheEntry
	head, tail *cacheEntry
	curWeight  int
	maxEntries int
	maxWeight  int

	group singleflight.Group

	onHit  func()
	onMiss func()
}

// NewVerdictCache constructs a VerdictCache with sane defaults, overridable
// via options.
func NewVerdictCache(opts ...VerdictCacheOption) *VerdictCache {
	c := &VerdictCache{
		entries:    make(map[uint64]*cacheEntry),
		maxEntries: 10000,
		maxWeight:  64 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey hashes a FileExecutionID into the cache's lookup key. Path,
// changeset id, and rule name are written with separators to avoid
// collisions between e.g. ("ab", "c") and ("a", "bc").
func cacheKey(id hook.FileExecutionID) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(id.File.Path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(id.CsID))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(id.RuleName)
	return h.Sum64()
}

// GetOrCompute implements hook.VerdictCache.
func (c *VerdictCache) GetOrCompute(ctx context.Context, key hook.FileExecutionID, compute func(context.Context) (hook.Verdict, error)) (hook.Verdict, error) {
	k := cacheKey(key)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		c.moveToHeadLocked(e)
		c.mu.Unlock()
		if c.onHit != nil {
			c.onHit()
		}
		return e.verdict, nil
	}
	c.mu.Unlock()

	if c.onMiss != nil {
		c.onMiss()
	}

	// singleflight coalesces concurrent identical misses into one compute
	// call; its own key is derived from the same hash to avoid hashing twice.
	// The flight re-checks the cache and stores its result before it ends,
	// so a caller that missed just as an earlier flight finished reuses that
	// verdict instead of computing it again.
	v, err, _ := c.group.Do(fmt.Sprintf("%x", k), func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[k]; ok {
			cached := e.verdict
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()
		verdict, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(k, key, verdict)
		return verdict, nil
	})
	if err != nil {
		return hook.Verdict{}, err
	}
	return v.(hook.Verdict), nil
}

func (c *VerdictCache) put(k uint64, execID hook.FileExecutionID, verdict hook.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[k]; ok {
		c.curWeight -= e.weight
		e.verdict = verdict
		e.weight = execID.Weight() + verdict.Weight()
		c.curWeight += e.weight
		c.moveToHeadLocked(e)
		c.evictToFitLocked()
		return
	}

	weight := execID.Weight() + verdict.Weight()
	e := &cacheEntry{key: k, execID: execID, verdict: verdict, weight: weight}
	c.entries[k] = e
	c.curWeight += weight
	c.pushHeadLocked(e)
	c.evictToFitLocked()
}

// evictToFitLocked evicts least-recently-used entries until both the entry
// count and cumulative weight bounds are satisfied. Must be called with the
// lock held.
func (c *VerdictCache) evictToFitLocked() {
	for c.tail != nil && (len(c.entries) > c.maxEntries || c.curWeight > c.maxWeight) {
		c.evictTailLocked()
	}
}

func (c *VerdictCache) moveToHeadLocked(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *VerdictCache) pushHeadLocked(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *VerdictCache) unlinkLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *VerdictCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	c.curWeight -= c.tail.weight
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// Len reports the current number of cached verdicts, for tests and metrics.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Weight reports the current cumulative weight held by the cache.
func (c *VerdictCache) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curWeight
}

// Compile-time interface verification.
var _ hook.VerdictCache = (*VerdictCache)(nil)
