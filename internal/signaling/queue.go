package signaling

import (
	"sync"
	"sync/atomic"
)

// sendQueue is a message-bounded FIFO feeding one connection's forwarder.
//
// Enqueue never blocks so broadcasts can run while other connections are
// slow; messages beyond the bound are dropped.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	max  int
	msgs [][]byte

	drops atomic.Uint64
}

func newSendQueue(max int) *sendQueue {
	if max <= 0 {
		max = 1
	}
	q := &sendQueue{max: max}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

func (q *sendQueue) Enqueue(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.msgs) >= q.max {
		q.drops.Add(1)
		return false
	}
	q.msgs = append(q.msgs, msg)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a message is available or the queue is closed and
// drained.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.msgs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	return msg, true
}

// Close stops accepting messages. Messages already queued are still handed
// out by Dequeue so a departing client's last notices are flushed.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
