package consumer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPerCallQueue_PreservesSubmissionOrderPerCall(t *testing.T) {
	q := newPerCallQueue()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		i := i
		q.Submit("call-1", func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v, "work for one call must run in submission order")
	}
}

// TestPerCallQueue_SubmitAfterRemoveDoesNotPanic covers at-least-once
// redelivery racing call teardown: a transcript redelivered after call_end
// has removed the queue must simply revive it, never crash the consumer.
func TestPerCallQueue_SubmitAfterRemoveDoesNotPanic(t *testing.T) {
	q := newPerCallQueue()

	done := make(chan struct{})
	q.Submit("call-1", func() { q.Remove("call-1") })
	q.Submit("call-1", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("work submitted around Remove never ran")
	}

	late := make(chan struct{})
	q.Submit("call-1", func() { close(late) })
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("submit after Remove must start a fresh worker")
	}
}
