package lru

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
	assert.Panics(t, func() { New[string, int](-1) })
}

func TestGetPut(t *testing.T) {
	s := New[string, int](2)

	_, ok := s.Get("a")
	assert.False(t, ok)

	prev, replaced := s.Put("a", 1)
	assert.False(t, replaced)
	assert.Equal(t, 0, prev)

	prev, replaced = s.Put("a", 2)
	assert.True(t, replaced)
	assert.Equal(t, 1, prev)

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s.Size())
}

// TestEvictsLeastRecentlyTouched is the A,B,C / get(A) / put(D) example
func TestEvictsLeastRecentlyTouched(t *testing.T) {
	var evictedKeys []string
	s := New[string, int](3, WithEvictHook[string, int](func(k string, _ int) {
		evictedKeys = append(evictedKeys, k)
	}))

	s.Put("A", 1)
	s.Put("B", 2)
	s.Put("C", 3)
	s.Get("A")
	s.Put("D", 4)

	assert.Equal(t, []string{"B"}, evictedKeys)
	assert.Equal(t, 3, s.Size())
	for _, k := range []string{"A", "C", "D"} {
		assert.True(t, s.ContainsKey(k), "expected %s to be present", k)
	}
	assert.False(t, s.ContainsKey("B"))
}

// TestPutRefreshesRecency checks that replacing a value counts as a touch
func TestPutRefreshesRecency(t *testing.T) {
	s := New[string, int](2)
	s.Put("A", 1)
	s.Put("B", 2)
	s.Put("A", 10)
	s.Put("C", 3)

	assert.True(t, s.ContainsKey("A"))
	assert.False(t, s.ContainsKey("B"))
}

// TestCapacityInvariant inserts C+k distinct keys and checks that exactly the
// first k are gone
func TestCapacityInvariant(t *testing.T) {
	const capacity = 8

	for k := 1; k <= capacity; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			s := New[int, int](capacity)
			for i := 0; i < capacity+k; i++ {
				s.Put(i, i)
				require.LessOrEqual(t, s.Size(), capacity)
			}

			assert.Equal(t, capacity, s.Size())
			for i := 0; i < k; i++ {
				assert.False(t, s.ContainsKey(i), "key %d should have been evicted", i)
			}
			for i := k; i < capacity+k; i++ {
				assert.True(t, s.ContainsKey(i), "key %d should be present", i)
			}
		})
	}
}

func TestContainsKeyDoesNotTouch(t *testing.T) {
	s := New[string, int](2)
	s.Put("A", 1)
	s.Put("B", 2)
	assert.True(t, s.ContainsKey("A"))
	s.Put("C", 3)

	assert.False(t, s.ContainsKey("A"))
	assert.True(t, s.ContainsKey("B"))
}

func TestRemoveAndClear(t *testing.T) {
	s := New[string, int](4)
	s.Put("A", 1)
	s.Put("B", 2)

	v, ok := s.Remove("A")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = s.Remove("A")
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.ContainsKey("B"))
}

// TestRemoveIfKeepsReplacedValue checks that a stale owner cannot remove the
// entry that replaced its own value
func TestRemoveIfKeepsReplacedValue(t *testing.T) {
	s := New[string, *int](4)
	first, second := new(int), new(int)
	s.Put("A", first)
	s.Put("A", second)

	isFirst := func(v *int) bool { return v == first }
	assert.False(t, s.RemoveIf("A", isFirst))
	v, ok := s.Get("A")
	require.True(t, ok)
	assert.Same(t, second, v)

	assert.True(t, s.RemoveIf("A", func(v *int) bool { return v == second }))
	assert.False(t, s.ContainsKey("A"))
	assert.False(t, s.RemoveIf("missing", func(*int) bool { return true }))
}

// TestResizeIsLazy checks that shrinking only takes effect on the next insert
func TestResizeIsLazy(t *testing.T) {
	evictions := 0
	s := New[int, int](4, WithEvictHook[int, int](func(int, int) { evictions++ }))
	for i := 0; i < 4; i++ {
		s.Put(i, i)
	}

	require.NoError(t, s.Resize(2))
	assert.Equal(t, 2, s.Capacity())
	assert.Equal(t, 4, s.Size(), "resize must not evict eagerly")
	assert.Equal(t, 0, evictions)

	// replacing an existing key is not an insert
	s.Put(3, 30)
	assert.Equal(t, 4, s.Size())

	s.Put(4, 4)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 3, evictions)
	assert.True(t, s.ContainsKey(3))
	assert.True(t, s.ContainsKey(4))

	assert.Error(t, s.Resize(0))
}

func TestResizeGrow(t *testing.T) {
	s := New[int, int](1)
	s.Put(1, 1)
	require.NoError(t, s.Resize(3))
	s.Put(2, 2)
	s.Put(3, 3)
	assert.Equal(t, 3, s.Size())
}

func TestGetOrInsertWith(t *testing.T) {
	s := New[string, int](2)
	calls := 0
	factory := func() int {
		calls++
		return 42
	}

	v, inserted := s.GetOrInsertWith("A", factory)
	assert.True(t, inserted)
	assert.Equal(t, 42, v)

	v, inserted = s.GetOrInsertWith("A", factory)
	assert.False(t, inserted)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	// inserting through the compound operation also respects capacity
	s.GetOrInsertWith("B", factory)
	s.GetOrInsertWith("C", factory)
	assert.Equal(t, 2, s.Size())
	assert.False(t, s.ContainsKey("A"))
}

// TestGetOrInsertWithConcurrent races many goroutines on the same keys and
// checks that every key was computed once and all callers saw the same value
func TestGetOrInsertWithConcurrent(t *testing.T) {
	const (
		numKeys       = 16
		numGoroutines = 32
	)
	s := New[int, *int](numKeys)

	var calls [numKeys]atomic.Int32
	results := make([][numKeys]*int, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for k := 0; k < numKeys; k++ {
				key := k
				v, _ := s.GetOrInsertWith(key, func() *int {
					calls[key].Add(1)
					value := key
					return &value
				})
				results[g][k] = v
			}
		}(g)
	}
	wg.Wait()

	for k := 0; k < numKeys; k++ {
		assert.Equal(t, int32(1), calls[k].Load(), "factory for key %d", k)
		for g := 1; g < numGoroutines; g++ {
			assert.Same(t, results[0][k], results[g][k], "key %d goroutine %d", k, g)
		}
	}
}

// TestConcurrentSizeBound runs interleaved gets and puts on distinct keys and
// checks that the size never exceeds the capacity
func TestConcurrentSizeBound(t *testing.T) {
	const (
		capacity      = 64
		numGoroutines = 16
		opsPerWorker  = 2000
	)
	s := New[string, int](capacity)

	var violations atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("%d-%d", g, i)
				s.Put(key, i)
				s.Get(fmt.Sprintf("%d-%d", g, i/2))
				if s.Size() > capacity {
					violations.Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
	assert.Equal(t, capacity, s.Size())
}

// TestEvictHookRunsUnlocked checks that the hook may call back into the store
func TestEvictHookRunsUnlocked(t *testing.T) {
	var s IStore[int, int]
	seen := -1
	s = New[int, int](1, WithEvictHook[int, int](func(k int, _ int) {
		seen = s.Size()
	}))

	s.Put(1, 1)
	s.Put(2, 2)
	assert.Equal(t, 1, seen)
}

func BenchmarkPutGet(b *testing.B) {
	s := New[int, int](1024)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Put(i%4096, i)
			s.Get((i / 2) % 4096)
			i++
		}
	})
}
