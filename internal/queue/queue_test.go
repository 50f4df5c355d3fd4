package queue_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/pkg/api"
)

const queueTimeout = 3 * time.Second

func TestReceiveOrdered(t *testing.T) {
	q := queue.New[int]("numbers")
	t.Cleanup(q.Close)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	r := q.Receive(func(v int) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, v)
		if v == 3 {
			close(done)
		}
		return nil
	})
	t.Cleanup(r.Stop)

	q.Emit(1)
	q.Emit(2)
	q.Emit(3)

	select {
	case <-done:
	case <-time.After(queueTimeout):
		assert.Fail(t, "timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestReceiveBroadcast(t *testing.T) {
	q := queue.New[string]("names")
	t.Cleanup(q.Close)

	first := make(chan string, 1)
	second := make(chan string, 1)
	r1 := q.Receive(func(s string) error { first <- s; return nil })
	r2 := q.Receive(func(s string) error { second <- s; return nil })
	t.Cleanup(r1.Stop)
	t.Cleanup(r2.Stop)

	q.Emit("hello")

	for _, ch := range []chan string{first, second} {
		select {
		case s := <-ch:
			assert.Equal(t, "hello", s)
		case <-time.After(queueTimeout):
			assert.Fail(t, "timed out waiting for broadcast")
		}
	}
}

func TestReceiveRetriesError(t *testing.T) {
	q := queue.New[int]("retry")
	t.Cleanup(q.Close)

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	r := q.Receive(func(int) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("handler error")
		}
		close(done)
		return nil
	})
	t.Cleanup(r.Stop)

	q.Emit(1)

	select {
	case <-done:
	case <-time.After(queueTimeout):
		assert.Fail(t, "timed out waiting for retry")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestReceiveRecoversPanic(t *testing.T) {
	q := queue.New[int]("panic")
	t.Cleanup(q.Close)

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	r := q.Receive(func(v int) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("boom")
		}
		if v == 2 {
			close(done)
		}
		return nil
	})
	t.Cleanup(r.Stop)

	q.Emit(1)
	q.Emit(2)

	select {
	case <-done:
	case <-time.After(queueTimeout):
		assert.Fail(t, "timed out after panic")
	}
}

func TestSubscribe(t *testing.T) {
	qs := queue.NewQueues()
	t.Cleanup(qs.Close)

	cons := qs.Kills.Subscribe()
	defer cons.Close()

	qs.Kills.Emit(&api.ExecutionKilled{ExecutionID: "exec-1"})

	select {
	case msg := <-cons.Receive():
		require.NotNil(t, msg)
		assert.Equal(t, "exec-1", msg.ExecutionID)
	case <-time.After(queueTimeout):
		assert.Fail(t, "timed out waiting for kill")
	}
	assert.Equal(t, queue.NameKills, qs.Kills.Name())
}

func TestEmitAfterClose(t *testing.T) {
	q := queue.New[int]("closed")
	q.Close()
	assert.NotPanics(t, func() { q.Emit(1) })
}
