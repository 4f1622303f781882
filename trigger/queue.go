// Package trigger carries capture triggers from the motion loop to the sampling worker.
package trigger

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// ErrReceiverGone is returned by Send once the sampling worker has exited.
var ErrReceiverGone = errors.New("trigger receiver has exited")

// Code is a trigger sent to the sampling worker.
type Code int

// The trigger codes. Any other value is treated like Sample but does not advance the counter.
const (
	Stop      Code = 0
	Sample    Code = 1
	MarkStart Code = 2
	MarkEnd   Code = 3
	WarmUp    Code = 4
)

func (c Code) String() string {
	switch c {
	case Stop:
		return "stop"
	case Sample:
		return "sample"
	case MarkStart:
		return "mark-start"
	case MarkEnd:
		return "mark-end"
	case WarmUp:
		return "warm-up"
	}
	return "code-" + strconv.Itoa(int(c))
}

// Queue is an unbounded FIFO of trigger codes with a single receiver. Send never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []Code
	notify chan struct{}
	closed bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Send enqueues code.
func (q *Queue) Send(code Code) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrapf(ErrReceiverGone, "dropping %s", code)
	}
	q.items = append(q.items, code)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Recv blocks until a code is available or ctx is done.
func (q *Queue) Recv(ctx context.Context) (Code, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			code := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return code, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of codes waiting to be received.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the receiver as gone. Pending codes are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
