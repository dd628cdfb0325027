package consumer

import "sync"

// perCallQueue serialises work for one call onto a single goroutine, so
// slow enrichment (LLM, KB) on one transcript line never reorders the
// broadcasts for that call relative to each other — while different calls
// still process fully in parallel. Grounded on the snapshot-then-release
// broadcast shape in codeready-toolchain-tarsy's pkg/events/manager.go,
// adapted here to gate work instead of connection writes.
//
// The pending list is a mutex-guarded slice rather than a channel: at-least-
// once delivery means a redelivered transcript can arrive after call_end has
// already removed the call's queue, and a Submit racing a channel close
// would panic. Appending under the lock has no close to race with — a late
// Submit just revives the queue for the straggler.
type perCallQueue struct {
	mu     sync.Mutex
	queues map[string]*callQueue
}

type callQueue struct {
	pending []func()
	running bool
}

func newPerCallQueue() *perCallQueue {
	return &perCallQueue{queues: make(map[string]*callQueue)}
}

// Submit enqueues fn to run on callID's dedicated worker, starting that
// worker on first use. fn runs after every previously submitted fn for the
// same callID has returned.
func (q *perCallQueue) Submit(callID string, fn func()) {
	q.mu.Lock()
	cq, ok := q.queues[callID]
	if !ok {
		cq = &callQueue{}
		q.queues[callID] = cq
	}
	cq.pending = append(cq.pending, fn)
	if !cq.running {
		cq.running = true
		go q.drain(cq)
	}
	q.mu.Unlock()
}

func (q *perCallQueue) drain(cq *callQueue) {
	for {
		q.mu.Lock()
		if len(cq.pending) == 0 {
			cq.running = false
			q.mu.Unlock()
			return
		}
		fn := cq.pending[0]
		cq.pending = cq.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

// Remove drops callID's map entry once its call has ended. Any work still
// pending on the detached queue drains to completion; safe to call from
// within a submitted fn.
func (q *perCallQueue) Remove(callID string) {
	q.mu.Lock()
	delete(q.queues, callID)
	q.mu.Unlock()
}
