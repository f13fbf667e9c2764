package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaged_DrainKeepsOrder(t *testing.T) {
	q := New[string]()
	q.Push("", "couple")
	q.Push("", "uncouple")
	q.Push("", "switch")

	assert.Equal(t, []string{"couple", "uncouple", "switch"}, q.Drain())
	assert.Empty(t, q.Drain())
}

func TestStaged_KeyedItemsSupersede(t *testing.T) {
	q := New[string]()
	q.Push("state", "state 1")
	q.Push("", "couple")
	q.Push("report:bob", "bob 1")
	q.Push("state", "state 2")
	q.Push("report:carol", "carol 1")
	q.Push("report:bob", "bob 2")

	assert.Equal(t, []string{"couple", "state 2", "carol 1", "bob 2"}, q.Drain())

	q.Push("state", "state 3")
	assert.Equal(t, []string{"state 3"}, q.Drain(), "drained keys start fresh")
}

func TestStaged_ConcurrentPushAndDrain(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Push("", i)
		}()
	}

	var mu sync.Mutex
	total := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(q.Drain())
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	total += len(q.Drain())
	assert.Equal(t, 100, total)
}
