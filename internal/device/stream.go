package device

import (
	"sync"
)

// stream is an in-order task queue drained by a single goroutine.
type stream struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
	done   chan struct{}
}

func newStream(depth int) *stream {
	if depth < 1 {
		depth = 1
	}
	s := &stream{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *stream) worker() {
	defer close(s.done)
	for task := range s.tasks {
		task()
	}
}

// submit enqueues task. It returns false if the stream is closed.
func (s *stream) submit(task func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tasks <- task
	return true
}

// close stops accepting tasks and waits for queued ones to finish.
func (s *stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.done
}
