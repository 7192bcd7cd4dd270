// Package pipeline runs deferred cache writes on a single background
// worker.
//
// Tasks are executed strictly in submission order, so the last write
// queued for a given path always wins on disk. Shutdown is an ordinary
// task: the exit token is processed after everything queued before it,
// which means accepted writes are never dropped.
//
// The queue is guarded by one mutex and two condition variables: workCond
// wakes the worker when a task arrives, idleCond wakes drainers when the
// worker has finished everything.
package pipeline

import "sync"

type op uint8

const (
	opInvalid op = iota
	opWrite
	opExit
)

// Task is one unit of deferred work.
type Task struct {
	op   op
	Hash uint32
	Path string
	Data []byte
}

// NewWriteTask builds a task that persists data to path.
func NewWriteTask(hash uint32, path string, data []byte) Task {
	return Task{op: opWrite, Hash: hash, Path: path, Data: data}
}

// Queue feeds a single worker goroutine that executes tasks in FIFO order.
type Queue struct {
	mu       sync.Mutex
	workCond *sync.Cond
	idleCond *sync.Cond

	tasks  []Task
	idle   bool
	closed bool
	wg     sync.WaitGroup

	exec func(Task)
}

// NewQueue starts the worker. exec is invoked for every write task, outside
// the queue lock.
func NewQueue(exec func(Task)) *Queue {
	q := &Queue{
		exec: exec,
		idle: true,
	}
	q.workCond = sync.NewCond(&q.mu)
	q.idleCond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit appends a task. It reports false if the queue has been closed, in
// which case the task was not accepted.
func (q *Queue) Submit(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.idle = false
	q.workCond.Signal()
	return true
}

// Drain blocks until the queue is empty and the worker is idle.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.idle {
		q.idleCond.Wait()
	}
}

// Close submits the exit token and waits for the worker to finish all
// previously queued tasks. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.tasks = append(q.tasks, Task{op: opExit})
		q.idle = false
		q.workCond.Signal()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()

	q.mu.Lock()
	for {
		for len(q.tasks) == 0 {
			q.idle = true
			q.idleCond.Broadcast()
			q.workCond.Wait()
		}

		t := q.tasks[0]
		q.tasks[0] = Task{}
		q.tasks = q.tasks[1:]

		if t.op == opExit {
			// The exit token is last: Close rejects later submissions.
			q.idle = true
			q.idleCond.Broadcast()
			q.mu.Unlock()
			return
		}

		q.mu.Unlock()
		q.exec(t)
		q.mu.Lock()
	}
}
