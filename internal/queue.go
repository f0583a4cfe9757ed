package internal

import "sync"

// updateQueue runs the jobs of one user one after another in the order they were pushed.
// Jobs of different users run concurrently.
type updateQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	workers sync.WaitGroup
}

// push appends job to the queue of id, starting a worker when none is running
func (q *updateQueue) push(id int64, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[int64][]func())
	}

	jobs, running := q.pending[id]
	q.pending[id] = append(jobs, job)
	if running {
		return
	}
	q.workers.Add(1)
	go q.drain(id)
}

// drain runs queued jobs of id until the queue is empty, then retires
func (q *updateQueue) drain(id int64) {
	defer q.workers.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[id]
		if len(jobs) == 0 {
			delete(q.pending, id)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[id] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// wait blocks until every pushed job has run
func (q *updateQueue) wait() {
	q.workers.Wait()
}
