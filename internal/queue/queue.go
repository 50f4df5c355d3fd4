// Package queue provides the in-process topics the executor, the worker and
// the monitoring surfaces communicate over
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Queue is a broadcast topic. Every consumer receives each message
	// independently of the others
	Queue[T any] struct {
		name      string
		topic     topic.Topic[T]
		prod      topic.Producer[T]
		mu        sync.RWMutex
		closed    bool
		closeOnce sync.Once
	}

	// Receiver runs a Handler for every message of one consumer, in order
	Receiver[T any] struct {
		name        string
		cons        topic.Consumer[T]
		handler     Handler[T]
		stop        chan struct{}
		wg          sync.WaitGroup
		startOnce   sync.Once
		stopOnce    sync.Once
		cleanupOnce sync.Once
	}

	// Handler processes one message
	Handler[T any] func(T) error
)

var ErrHandlerPanicked = errors.New("queue handler panicked")

const (
	maxRetries = 3
	retryDelay = 100 * time.Millisecond
)

// New creates a named Queue
func New[T any](name string) *Queue[T] {
	t := caravan.NewTopic[T]()
	return &Queue[T]{
		name:  name,
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Name returns the name of the Queue
func (q *Queue[T]) Name() string {
	return q.name
}

// Emit publishes a message. Messages emitted after Close are dropped
func (q *Queue[T]) Emit(msg T) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		slog.Debug("Message dropped on closed queue",
			log.Queue(q.name))
		return
	}
	message.Send(q.prod, msg)
}

// Subscribe creates a raw consumer of the Queue. The caller must Close it
func (q *Queue[T]) Subscribe() topic.Consumer[T] {
	return q.topic.NewConsumer()
}

// Receive creates a started Receiver that calls the handler for every
// message of a new consumer
func (q *Queue[T]) Receive(handler Handler[T]) *Receiver[T] {
	r := &Receiver[T]{
		name:    q.name,
		cons:    q.topic.NewConsumer(),
		handler: handler,
		stop:    make(chan struct{}),
	}
	r.start()
	return r
}

// Close stops the Queue from accepting messages
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		q.prod.Close()
	})
}

func (r *Receiver[T]) start() {
	r.startOnce.Do(func() {
		r.wg.Go(func() {
			for {
				select {
				case <-r.stop:
					return
				case msg, ok := <-r.cons.Receive():
					if !ok {
						return
					}
					r.handle(msg)
				}
			}
		})
	})
}

// Flush handles the messages already delivered to the Receiver and stops it
func (r *Receiver[T]) Flush() {
	r.halt()
	r.cleanupOnce.Do(r.drain)
}

// Stop immediately stops the Receiver without handling pending messages
func (r *Receiver[T]) Stop() {
	r.halt()
	r.cleanupOnce.Do(r.cons.Close)
}

func (r *Receiver[T]) halt() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Receiver[T]) drain() {
	defer r.cons.Close()
	for {
		select {
		case msg, ok := <-r.cons.Receive():
			if !ok {
				return
			}
			r.handle(msg)
		default:
			return
		}
	}
}

func (r *Receiver[T]) handle(msg T) {
	for attempt := range maxRetries {
		err := r.tryHandle(msg)
		if err == nil {
			return
		}
		slog.Error("Queue handler failed",
			log.Queue(r.name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxRetries),
			log.Error(err))
		if attempt < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	slog.Error("Queue message permanently failed",
		log.Queue(r.name))
}

func (r *Receiver[T]) tryHandle(msg T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, rec)
		}
	}()
	return r.handler(msg)
}
