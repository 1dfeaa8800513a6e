package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
)

// Handler executes one task and returns its result payload. A returned
// error sends the task through the retry path.
type Handler func(ctx context.Context, task *models.WorkTask) (datatypes.JSONMap, error)

// Pool runs N workers that poll the queue and dispatch tasks to
// registered handlers. Workers lease only task types they have handlers
// for; anything else stays pending for its own consumer.
type Pool struct {
	mu       sync.RWMutex
	queue    *Queue
	handlers map[string]Handler

	workers  int
	interval time.Duration

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewPool creates a worker pool over the queue
func NewPool(q *Queue, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:    q,
		handlers: make(map[string]Handler),
		workers:  workers,
		interval: 2 * time.Second,
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (p *Pool) Register(taskType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = h
}

// Start launches the workers
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("worker pool already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	log.Printf("✅ Worker pool started (%d workers)", p.workers)
	return nil
}

// Stop signals the workers and waits for in-flight tasks to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("✅ Worker pool stopped")
}

// worker polls only the task types this pool has handlers for; other
// types (the sync engine's upload tasks) stay untouched
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		leased := false
		for _, taskType := range p.registeredTypes() {
			task, err := p.queue.LeaseNext(ctx, taskType)
			if err != nil {
				if !errors.Is(err, store.ErrNoTask) && ctx.Err() == nil {
					log.Printf("⚠️ Worker %d lease failed: %v", id, err)
				}
				continue
			}
			leased = true
			p.dispatch(ctx, id, task)
		}

		if !leased {
			select {
			case <-time.After(p.interval):
			case <-p.stopChan:
				return
			}
		}
	}
}

func (p *Pool) registeredTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

func (p *Pool) dispatch(ctx context.Context, id int, task *models.WorkTask) {
	p.mu.RLock()
	handler, ok := p.handlers[task.TaskType]
	p.mu.RUnlock()

	// Bookkeeping must land even when Stop cancelled the worker context
	// mid-handler, or the leased task strands in processing
	bctx := context.WithoutCancel(ctx)

	if !ok {
		if _, err := p.queue.Fail(bctx, task.TaskID, fmt.Errorf("no handler for task type %q", task.TaskType)); err != nil {
			log.Printf("⚠️ Worker %d could not fail task %s: %v", id, task.TaskID, err)
		}
		return
	}

	result, err := handler(ctx, task)
	if err != nil {
		terminal, ferr := p.queue.Fail(bctx, task.TaskID, err)
		if ferr != nil {
			log.Printf("⚠️ Worker %d could not fail task %s: %v", id, task.TaskID, ferr)
			return
		}
		if terminal {
			log.Printf("🛑 Task %s (%s) failed permanently: %v", task.TaskID, task.TaskType, err)
		}
		return
	}

	if err := p.queue.Complete(bctx, task.TaskID, result); err != nil {
		log.Printf("⚠️ Worker %d could not complete task %s: %v", id, task.TaskID, err)
	}
}
