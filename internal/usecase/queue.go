package usecase

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

// Request is a tile request owned by the RequestQueue from Enqueue until its
// callbacks are handed out by Complete, Clear or an overflow eviction.
type Request struct {
	Key      tile.Key
	Source   tile.Source
	Enqueued time.Time

	ctx       context.Context
	cancel    context.CancelCauseFunc
	callbacks []Callback
	elem      *list.Element
}

// Context is cancelled when the queue is cleared while the request is being
// loaded. It is only set for working requests.
func (r *Request) Context() context.Context {
	return r.ctx
}

func (r *Request) takeCallbacks() []Callback {
	cbs := r.callbacks
	r.callbacks = nil
	return cbs
}

// RequestQueue tracks pending and working requests. pending holds every
// request including the working ones, ordered from least to most recently
// touched; working is the subset assigned to a worker.
type RequestQueue struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	pending  map[tile.Key]*Request
	working  map[tile.Key]*Request
}

func NewRequestQueue(capacity int) *RequestQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &RequestQueue{
		capacity: capacity,
		order:    list.New(),
		pending:  make(map[tile.Key]*Request),
		working:  make(map[tile.Key]*Request),
	}
}

func (q *RequestQueue) Capacity() int {
	return q.capacity
}

// Enqueue adds a request for k or, when one is already pending, moves it to
// the most recent position and attaches cb to it. When the queue grows past
// its capacity the least recently touched request that is not working is
// removed and returned with its callbacks; the caller must fail them.
func (q *RequestQueue) Enqueue(k tile.Key, src tile.Source, cb Callback, now time.Time) (evicted *Request, evictedCallbacks []Callback, coalesced bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.pending[k]; ok {
		if cb != nil {
			r.callbacks = append(r.callbacks, cb)
		}
		if _, working := q.working[k]; !working && src != nil {
			r.Source = src
		}
		q.order.MoveToBack(r.elem)
		return nil, nil, true
	}

	r := &Request{
		Key:      k,
		Source:   src,
		Enqueued: now,
	}
	if cb != nil {
		r.callbacks = []Callback{cb}
	}
	r.elem = q.order.PushBack(r)
	q.pending[k] = r

	if len(q.pending) > q.capacity {
		for e := q.order.Front(); e != nil; e = e.Next() {
			candidate := e.Value.(*Request)
			if _, working := q.working[candidate.Key]; working {
				continue
			}
			q.remove(candidate)
			return candidate, candidate.takeCallbacks(), false
		}
	}

	return nil, nil, false
}

// TakeNext moves the most recently touched request that is not yet working
// into the working set and returns it, or nil when nothing is eligible.
func (q *RequestQueue) TakeNext(parent context.Context) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.order.Back(); e != nil; e = e.Prev() {
		r := e.Value.(*Request)
		if _, working := q.working[r.Key]; working {
			continue
		}
		r.ctx, r.cancel = context.WithCancelCause(parent)
		q.working[r.Key] = r
		return r
	}

	return nil
}

// Complete drops r from both maps and hands out its callbacks. A request
// that was already cleared away only gives up its callbacks. Calling it
// twice returns nothing the second time.
func (q *RequestQueue) Complete(r *Request) []Callback {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[r.Key] == r {
		q.remove(r)
	}
	if r.cancel != nil {
		r.cancel(nil)
	}
	return r.takeCallbacks()
}

// Clear drops every request that is not working and returns them with their
// callbacks still attached. Working requests stay tracked until their
// worker completes them, but their contexts are cancelled with cause.
func (q *RequestQueue) Clear(cause error) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []*Request
	for e := q.order.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*Request)
		if w, working := q.working[r.Key]; working && w == r {
			r.cancel(cause)
		} else {
			q.remove(r)
			dropped = append(dropped, r)
		}
		e = next
	}

	return dropped
}

// Len counts pending requests, working ones included.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *RequestQueue) Working() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.working)
}

func (q *RequestQueue) remove(r *Request) {
	q.order.Remove(r.elem)
	delete(q.pending, r.Key)
	if q.working[r.Key] == r {
		delete(q.working, r.Key)
	}
}
