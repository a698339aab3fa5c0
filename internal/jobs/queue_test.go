package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOSingleConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	q.Push(1, 2, 3)
	q.Close()

	var got []int
	for {
		v, ok := q.Take()
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestQueue_TakeBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := NewQueue[string]()
	done := make(chan string, 1)
	go func() {
		v, ok := q.Take()
		require.True(t, ok)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("take returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("wake")
	select {
	case v := <-done:
		require.Equal(t, "wake", v)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken by push")
	}
}

func TestQueue_CloseWakesAllConsumers(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	const consumers = 4
	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			_, ok := q.Take()
			require.False(t, ok)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("close did not wake all blocked consumers")
	}
}

func TestQueue_DrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	q.Push(7)
	q.Close()
	q.Push(8) // ignored after end-of-input

	v, ok := q.Take()
	require.True(t, ok)
	require.Equal(t, 7, v)

	_, ok = q.Take()
	require.False(t, ok)
	require.Zero(t, q.Len())
}

func TestQueue_ConcurrentConsumersSeeEveryItemOnce(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			q.Push(i)
		}
		q.Close()
	}()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Take()
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for v, count := range seen {
		require.Equalf(t, 1, count, "item %d delivered %d times", v, count)
	}
}
