package audio

import "sync"

// PlaybackQueue is an unbounded FIFO of chunks shared between producers (the
// session's receive path) and a single playback loop. Push never blocks; Pop
// blocks until a chunk is available or the queue is closed, using a condition
// variable rather than polling.
//
// Queue growth is unbounded: upstream response pacing limits production rate
// under normal operation, so no backpressure is applied to producers.
//
// All methods are safe for concurrent use.
type PlaybackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks []Chunk
	closed bool
}

// NewPlaybackQueue creates an empty open queue.
func NewPlaybackQueue() *PlaybackQueue {
	q := &PlaybackQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends chunk to the queue and wakes a waiting Pop. Pushes after Close
// are discarded.
func (q *PlaybackQueue) Push(chunk Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.cond.Signal()
}

// Pop removes and returns the oldest chunk. It blocks until a chunk is
// available or the queue is closed. The second return value is false once the
// queue is closed; closed queues discard their backlog, so Pop returns
// immediately after Close.
func (q *PlaybackQueue) Pop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.chunks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Chunk{}, false
	}
	chunk := q.chunks[0]
	q.chunks = q.chunks[1:]
	return chunk, true
}

// Len returns the number of queued chunks. Intended for metrics and tests.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Close marks the queue closed, discards any pending chunks, and wakes all
// blocked Pop callers. Safe to call more than once.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.chunks = nil
	q.cond.Broadcast()
}
