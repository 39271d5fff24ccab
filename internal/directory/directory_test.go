package directory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	id string

	mu     sync.Mutex
	agents map[string]bool
	lookups int
}

func newFakeNode(id string, agents ...string) *fakeNode {
	n := &fakeNode{id: id, agents: make(map[string]bool)}
	for _, a := range agents {
		n.agents[a] = true
	}
	return n
}

func (n *fakeNode) ID() string { return n.id }

func (n *fakeNode) HasAgent(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lookups++
	return n.agents[id]
}

func (n *fakeNode) add(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.agents[id] = true
}

func TestRegisterAndGet(t *testing.T) {
	d := New[*fakeNode]()
	d.Register(newFakeNode("CS2"))
	d.Register(newFakeNode("CS1"))
	d.Register(newFakeNode("CS3"))

	n, ok := d.Get("CS1")
	require.True(t, ok)
	assert.Equal(t, "CS1", n.ID())

	_, ok = d.Get("CS9")
	assert.False(t, ok)

	var ids []string
	for _, n := range d.Nodes() {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []string{"CS1", "CS2", "CS3"}, ids)
	assert.Equal(t, 3, d.Len())
}

func TestRegisterReplaces(t *testing.T) {
	d := New[*fakeNode]()
	d.Register(newFakeNode("CS1", "D1"))
	d.Register(newFakeNode("CS1", "D2"))

	assert.Equal(t, 1, d.Len())
	_, ok := d.Locate("D1")
	assert.False(t, ok)
	node, ok := d.Locate("D2")
	require.True(t, ok)
	assert.Equal(t, "CS1", node)
}

func TestLocate(t *testing.T) {
	d := New[*fakeNode]()
	d.Register(newFakeNode("CS1", "D1", "M1"))
	d.Register(newFakeNode("CS2", "D2"))

	node, ok := d.Locate("D2")
	require.True(t, ok)
	assert.Equal(t, "CS2", node)

	_, ok = d.Locate("ghost")
	assert.False(t, ok)
	_, ok = d.Locate("")
	assert.False(t, ok)
}

func TestLocateDuplicatePrefersLowestID(t *testing.T) {
	d := New[*fakeNode]()
	d.Register(newFakeNode("CS2", "D1"))
	d.Register(newFakeNode("CS1", "D1"))

	node, ok := d.Locate("D1")
	require.True(t, ok)
	assert.Equal(t, "CS1", node)
}

func TestLocateSeesLateRegistration(t *testing.T) {
	d := New[*fakeNode](WithIndex(time.Minute))
	n := newFakeNode("CS1")
	d.Register(n)

	_, ok := d.Locate("D1")
	assert.False(t, ok)

	n.add("D1")
	node, ok := d.Locate("D1")
	require.True(t, ok)
	assert.Equal(t, "CS1", node)
}

func TestIndexSkipsScan(t *testing.T) {
	d := New[*fakeNode](WithIndex(time.Minute))
	require.True(t, d.Indexed())
	n := newFakeNode("CS1", "D1")
	d.Register(n)

	_, ok := d.Locate("D1")
	require.True(t, ok)
	lookups := n.lookups

	for i := 0; i < 5; i++ {
		node, ok := d.Locate("D1")
		require.True(t, ok)
		assert.Equal(t, "CS1", node)
	}
	assert.Equal(t, lookups, n.lookups)

	d.Invalidate("D1")
	_, ok = d.Locate("D1")
	require.True(t, ok)
	assert.Greater(t, n.lookups, lookups)
}

func TestConcurrentRegisterAndLocate(t *testing.T) {
	d := New[*fakeNode](WithIndex(time.Minute))
	d.Register(newFakeNode("CS0", "D0"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			d.Register(newFakeNode(string(rune('A'+i)), "X"))
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := d.Locate("D0")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, d.Len())
}
