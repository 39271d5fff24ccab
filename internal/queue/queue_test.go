package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := NewFIFO[string]()
	q.Push("m1")
	q.Push("m2")
	q.Push("m3")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"m1", "m2", "m3"}, Drain[string](q))
	assert.Equal(t, 0, q.Len())
}

func TestTryPopEmpty(t *testing.T) {
	q := NewFIFO[int]()
	v, ok := q.TryPop()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestFIFOConcurrentPush(t *testing.T) {
	q := NewFIFO[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(j)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, q.Len())
}

func TestBoundedDropsWhenFull(t *testing.T) {
	q := NewBounded[string](2)
	assert.True(t, q.Push("a"))
	assert.True(t, q.Push("b"))
	assert.False(t, q.Push("c"))
	assert.Equal(t, 1, q.Dropped())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, q.Push("d"))
	assert.Equal(t, []string{"b", "d"}, Drain[string](q))
}

func TestInterface(t *testing.T) {
	var _ Queue[int] = NewFIFO[int]()
	var _ Queue[int] = NewBounded[int](4)
}
