package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// SerialExecutor runs posted functions one at a time on a single goroutine,
// in the order they were posted. Post never blocks.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

// NewSerialExecutor starts an executor. Close it to release the goroutine.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// Post queues fn. Functions posted after Close are dropped.
func (e *SerialExecutor) Post(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	e.signal()
}

// Close runs what is already queued and stops the executor. It must not be
// called from a function running on the executor.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
	<-e.stopped
}

func (e *SerialExecutor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *SerialExecutor) run() {
	defer close(e.stopped)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		runCallback(fn)
	}
}

func runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "session").Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn()
}
