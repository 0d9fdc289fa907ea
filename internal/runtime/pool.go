package runtime

import (
	"sync"
)

// workerPool runs tasks on a fixed set of goroutines that live as long as
// the Engine. Tasks must not wait on other tasks.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{tasks: make(chan func(), workers)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// runAll executes every task and waits for all of them. It returns false
// without running anything once the pool is closed.
func (p *workerPool) runAll(tasks []func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		t := t
		p.tasks <- func() {
			defer wg.Done()
			t()
		}
	}
	wg.Wait()
	return true
}

func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
