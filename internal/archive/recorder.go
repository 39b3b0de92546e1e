// Package archive feeds relayed messages to the room message log without
// blocking the relay.
package archive

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Appender is the write side of repositories.RoomMessageRepository.
type Appender interface {
	Append(ctx context.Context, roomID string, payload json.RawMessage) error
}

type record struct {
	roomID  string
	payload json.RawMessage
}

// Recorder queues payloads and appends them from a single worker so that
// each room's log keeps relay order.
type Recorder struct {
	store   Appender
	queue   chan record
	timeout time.Duration

	mu      sync.Mutex
	dropped int
}

func NewRecorder(store Appender, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		store:   store,
		queue:   make(chan record, queueSize),
		timeout: 5 * time.Second,
	}
}

// Record implements ws.Archiver. When the queue is full the payload is
// dropped and counted.
func (r *Recorder) Record(roomID string, payload json.RawMessage) {
	select {
	case r.queue <- record{roomID: roomID, payload: payload}:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		log.Printf("archive queue full, dropping message room=%s", roomID)
	}
}

// Dropped reports how many payloads were discarded on a full queue.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run appends queued payloads until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case rec := <-r.queue:
			r.append(rec)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.append(rec)
		default:
			return
		}
	}
}

func (r *Recorder) append(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Append(ctx, rec.roomID, rec.payload); err != nil {
		log.Printf("archive append failed room=%s: %v", rec.roomID, err)
	}
}
