package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateQueueKeepsOrderPerUser(t *testing.T) {
	var q updateQueue
	var mu sync.Mutex
	got := map[int64][]int{}

	for i := 0; i < 100; i++ {
		for _, id := range []int64{1, 2} {
			i, id := i, id
			q.push(id, func() {
				mu.Lock()
				got[id] = append(got[id], i)
				mu.Unlock()
			})
		}
	}
	q.wait()

	for _, id := range []int64{1, 2} {
		require.Len(t, got[id], 100)
		for i, v := range got[id] {
			assert.Equal(t, i, v)
		}
	}
}

func TestUpdateQueueUsersRunConcurrently(t *testing.T) {
	var q updateQueue
	release := make(chan struct{})
	done := make(chan struct{})

	// user 1 is stuck until user 2 runs
	q.push(1, func() { <-release })
	q.push(2, func() {
		close(release)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second user was blocked by the first")
	}
	q.wait()
}

func TestUpdateQueueRestartsAfterDrain(t *testing.T) {
	var q updateQueue
	ran := 0
	q.push(1, func() { ran++ })
	q.wait()
	q.push(1, func() { ran++ })
	q.wait()
	assert.Equal(t, 2, ran)
}
