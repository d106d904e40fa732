package lru

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// IStore is a fixed-capacity map with least-recently-used eviction.
// All methods are safe for concurrent use.
type IStore[K comparable, V any] interface {
	// Get returns the value for key and marks key as most recently used
	Get(key K) (V, bool)

	// Put stores value under key and marks key as most recently used.
	// If key was present, the previous value is returned. Inserting a new key
	// into a full store first evicts the least recently used entries.
	Put(key K, value V) (V, bool)

	// GetOrInsertWith returns the value for key, or, if key is absent, calls
	// factory exactly once, stores its result and returns it with inserted=true.
	// factory runs while the store is locked and must not call back into it.
	GetOrInsertWith(key K, factory func() V) (value V, inserted bool)

	// Remove deletes key and returns its value if it was present
	Remove(key K) (V, bool)

	// RemoveIf deletes key only if match reports true for its current value.
	// match runs while the store is locked and must not call back into it.
	RemoveIf(key K, match func(V) bool) bool

	// ContainsKey reports whether key is present without updating its recency
	ContainsKey(key K) bool

	// Size returns the number of entries
	Size() int

	// Capacity returns the current capacity
	Capacity() int

	// Clear removes all entries without calling the eviction hook
	Clear()

	// Resize changes the capacity. Shrinking never evicts here, the store is
	// brought back under capacity by the next insert of a new key.
	Resize(capacity int) error
}

// EvictFunc is called with every entry evicted for capacity reasons.
// It runs after the store lock has been released.
type EvictFunc[K comparable, V any] func(key K, value V)

// Option configures a store
type Option[K comparable, V any] func(*boundedStore[K, V])

// WithEvictHook registers fn to observe evictions
func WithEvictHook[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(s *boundedStore[K, V]) {
		s.onEvict = fn
	}
}

// boundedStore guards a simplelru list with one mutex. The simplelru size is
// set to the maximum so it never evicts by itself, eviction is driven here to
// honour a lazily applied capacity.
type boundedStore[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  *simplelru.LRU[K, V]
	onEvict  EvictFunc[K, V]
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// New creates a store holding at most capacity entries.
// It panics if capacity is not positive.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) IStore[K, V] {
	if capacity <= 0 {
		panic("must provide a positive capacity")
	}

	entries, err := simplelru.NewLRU[K, V](math.MaxInt32, nil)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}

	s := &boundedStore[K, V]{
		capacity: capacity,
		entries:  entries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IStore)
// --------------------------------------------------------------------------

func (s *boundedStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Get(key)
}

func (s *boundedStore[K, V]) Put(key K, value V) (V, bool) {
	s.mu.Lock()

	if prev, ok := s.entries.Peek(key); ok {
		s.entries.Add(key, value)
		s.mu.Unlock()
		return prev, true
	}

	victims := s.makeRoomLocked()
	s.entries.Add(key, value)
	s.mu.Unlock()

	s.notify(victims)
	var zero V
	return zero, false
}

func (s *boundedStore[K, V]) GetOrInsertWith(key K, factory func() V) (V, bool) {
	s.mu.Lock()

	if value, ok := s.entries.Get(key); ok {
		s.mu.Unlock()
		return value, false
	}

	victims := s.makeRoomLocked()
	value := factory()
	s.entries.Add(key, value)
	s.mu.Unlock()

	s.notify(victims)
	return value, true
}

func (s *boundedStore[K, V]) Remove(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.entries.Peek(key)
	if ok {
		s.entries.Remove(key)
	}
	return value, ok
}

func (s *boundedStore[K, V]) RemoveIf(key K, match func(V) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.entries.Peek(key)
	if !ok || !match(value) {
		return false
	}
	s.entries.Remove(key)
	return true
}

func (s *boundedStore[K, V]) ContainsKey(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Contains(key)
}

func (s *boundedStore[K, V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

func (s *boundedStore[K, V]) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *boundedStore[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
}

func (s *boundedStore[K, V]) Resize(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid capacity %d: must be positive", capacity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// makeRoomLocked evicts least recently used entries until one more entry fits
func (s *boundedStore[K, V]) makeRoomLocked() []evicted[K, V] {
	var victims []evicted[K, V]
	for s.entries.Len() >= s.capacity {
		key, value, ok := s.entries.RemoveOldest()
		if !ok {
			break
		}
		if s.onEvict != nil {
			victims = append(victims, evicted[K, V]{key: key, value: value})
		}
	}
	return victims
}

func (s *boundedStore[K, V]) notify(victims []evicted[K, V]) {
	for _, v := range victims {
		s.onEvict(v.key, v.value)
	}
}
