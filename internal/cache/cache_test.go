package cache

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok, "b was the oldest")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Evictions)
	assert.InDelta(t, 2.0/3, s.HitRate(), 1e-9)
}

func TestSetReplacesAndRefreshes(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int, string](0)
	for i := range 100 {
		c.Set(i, strconv.Itoa(i))
	}
	assert.Equal(t, 100, c.Len(), "no limit")
	assert.True(t, c.Delete(42))
	assert.False(t, c.Delete(42))
	assert.Equal(t, 99, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.order.len)
	c.Set(1, "one")
	v, _ := c.Get(1)
	assert.Equal(t, "one", v)
}

func TestListStaysConsistent(t *testing.T) {
	c := New[int, int](8)
	for i := range 64 {
		c.Set(i%13, i)
		c.Get((i * 7) % 13)
		if i%5 == 0 {
			c.Delete(i % 11)
		}
		require.Equal(t, len(c.entries), c.order.len)
	}
	n := 0
	for node := c.order.head; node != nil; node = node.next {
		_, ok := c.entries[node.key]
		require.True(t, ok)
		n++
	}
	assert.Equal(t, c.Len(), n)
}

func TestConcurrentUse(t *testing.T) {
	c := New[int, int](16)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				c.Set((g*i)%32, i)
				c.Get(i % 32)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
