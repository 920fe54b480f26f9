package storage

import (
	"context"
	"log"
	"sync"
	"time"
)

// Writer forwards records to the store off the event-handling path. Enqueue
// never blocks: a full queue drops the record with a log line, because losing
// a durability write is tolerable but stalling live UI feedback is not.
type Writer struct {
	store   Store
	queue   chan writeJob
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

type writeJob struct {
	collection string
	record     Record
}

// NewWriter starts the background writer with the given queue capacity.
func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		store:   store,
		queue:   make(chan writeJob, queueSize),
		done:    make(chan struct{}),
		timeout: 10 * time.Second,
	}
	go w.run()
	return w
}

// Enqueue hands a record to the writer. Failures never propagate.
func (w *Writer) Enqueue(collection string, record Record) {
	select {
	case w.queue <- writeJob{collection: collection, record: record}:
	default:
		log.Printf("[storage] queue full, dropping %s record", collection)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.store.Add(ctx, job.collection, job.record); err != nil {
			log.Printf("[storage] write to %s failed: %v", job.collection, err)
		}
		cancel()
	}
}

// Close drains the queue and stops the writer. Safe to call more than once.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.queue)
	})
	<-w.done
}
