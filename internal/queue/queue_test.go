package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PreservesFIFOOrder(t *testing.T) {
	// Given: a queue with several operations enqueued
	q := New(Config{})
	require.NoError(t, q.Enqueue(Add("e1")))
	require.NoError(t, q.Enqueue(Remove("e2")))
	require.NoError(t, q.Enqueue(Add("e3")))

	// When: dequeuing them
	var ids []string
	var kinds []OpKind
	for i := 0; i < 3; i++ {
		op, ok := q.TryDequeue()
		require.True(t, ok)
		ids = append(ids, op.DocumentID)
		kinds = append(kinds, op.Kind)
	}

	// Then: operations come out in enqueue order
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)
	assert.Equal(t, []OpKind{OpAdd, OpRemove, OpAdd}, kinds)
}

func TestQueue_TryDequeue_EmptyReturnsFalse(t *testing.T) {
	// Given: an empty queue
	q := New(Config{})

	// When: trying to dequeue
	_, ok := q.TryDequeue()

	// Then: nothing is returned
	assert.False(t, ok)
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_DequeueBlocking_WakesOnEnqueue(t *testing.T) {
	// Given: a consumer blocked on an empty queue
	q := New(Config{})
	got := make(chan Op, 1)
	go func() {
		op, ok := q.DequeueBlocking()
		if ok {
			got <- op
		}
	}()

	// When: an operation arrives
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(Add("e1")))

	// Then: the consumer wakes with it
	select {
	case op := <-got:
		assert.Equal(t, "e1", op.DocumentID)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not wake")
	}
}

func TestQueue_Backpressure_BlocksAtHighWater(t *testing.T) {
	// Given: a queue with a high-water mark of 2
	q := New(Config{HighWater: 2, LowWater: 1})
	require.NoError(t, q.Enqueue(Add("e1")))
	require.NoError(t, q.Enqueue(Add("e2")))

	// When: a producer tries to exceed the mark
	unblocked := make(chan struct{})
	go func() {
		_ = q.Enqueue(Add("e3"))
		close(unblocked)
	}()

	// Then: the producer blocks until the queue drains to low water
	select {
	case <-unblocked:
		t.Fatal("enqueue should have blocked at high water")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not unblock after drain")
	}
	assert.Equal(t, 2, q.Depth())
}

func TestQueue_Backpressure_ShutdownBypasses(t *testing.T) {
	// Given: a queue filled to its high-water mark
	q := New(Config{HighWater: 1})
	require.NoError(t, q.Enqueue(Add("e1")))

	// When: enqueueing a shutdown operation
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(Shutdown()) }()

	// Then: it is accepted without waiting for drain
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown enqueue blocked on backpressure")
	}
	assert.Equal(t, 2, q.Depth())
}

func TestQueue_Backpressure_RebuildBypasses(t *testing.T) {
	// Given: a queue filled to its high-water mark
	q := New(Config{HighWater: 1})
	require.NoError(t, q.Enqueue(Add("e1")))

	// When: enqueueing a rebuild barrier
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(RebuildAll()) }()

	// Then: it is accepted without waiting for drain
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild enqueue blocked on backpressure")
	}
	assert.Equal(t, 2, q.Depth())
}

func TestQueue_Close_UnblocksConsumers(t *testing.T) {
	// Given: a consumer blocked on an empty queue
	q := New(Config{})
	var wg sync.WaitGroup
	var gotOp bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, gotOp = q.DequeueBlocking()
	}()

	// When: closing the queue
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()

	// Then: the consumer returns without an operation
	assert.False(t, gotOp)

	// And: further enqueues fail
	err := q.Enqueue(Add("e1"))
	assert.Error(t, err)
}

func TestRebuildTicket_ResolveWakesWaiters(t *testing.T) {
	// Given: a waiter on a fresh ticket
	ticket := NewRebuildTicket()
	done := make(chan error, 1)
	go func() { done <- ticket.Wait(context.Background()) }()

	// When: the ticket resolves successfully
	ticket.MarkStarted()
	ticket.Resolve(nil)

	// Then: the waiter returns and sees the outcome
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not wake")
	}
	assert.True(t, ticket.Started())
	assert.NoError(t, ticket.Err())
	assert.False(t, ticket.FinishedAt().IsZero())
}

func TestRebuildTicket_TryJoin(t *testing.T) {
	// Given: a barrier the worker has not reached yet
	pending := NewRebuildTicket()

	// Then: new requests may coalesce onto it
	assert.True(t, pending.TryJoin())

	// When: the scan begins, joining must fail so a requester whose
	// writes the scan may have missed gets a fresh barrier
	pending.MarkStarted()
	assert.False(t, pending.TryJoin())

	// And: a resolved ticket is never rejoined
	finished := NewRebuildTicket()
	finished.Resolve(nil)
	assert.False(t, finished.TryJoin())
}

func TestRebuildTicket_WaitHonorsContext(t *testing.T) {
	// Given: a ticket that never resolves
	ticket := NewRebuildTicket()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// When: waiting with a deadline
	err := ticket.Wait(ctx)

	// Then: the wait gives up; the rebuild itself is not cancelled
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	select {
	case <-ticket.Done():
		t.Fatal("ticket should still be pending")
	default:
	}
}
