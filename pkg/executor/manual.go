package executor

import "sync"

// Manual queues posted tasks until the owner runs them. It makes the order
// and timing of notifications deterministic in tests.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

// Post appends task to the queue.
func (m *Manual) Post(task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, task)
}

// Len returns the number of queued tasks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Step runs the oldest queued task on the calling goroutine and reports
// whether there was one.
func (m *Manual) Step() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	task := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()
	task()
	return true
}

// Drain runs tasks, including those they post, until the queue is empty.
// It returns the number of tasks run.
func (m *Manual) Drain() int {
	n := 0
	for m.Step() {
		n++
	}
	return n
}
