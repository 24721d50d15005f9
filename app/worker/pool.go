package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler processes a dequeued task. Returning an error is logged; retry
// policy lives inside the handler itself.
type Handler func(ctx context.Context, task Task) error

// Pool runs a fixed number of workers draining the queue.
type Pool struct {
	queue   Queue
	handler Handler
	workers int
	logger  logrus.FieldLogger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewPool(queue Queue, handler Handler, workers int, logger logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:   queue,
		handler: handler,
		workers: workers,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	p.logger.WithField("workers", p.workers).Info("starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false

	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		task, err := p.queue.Dequeue(context.Background(), time.Second)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) {
				log.WithError(err).Error("dequeue failed")
				time.Sleep(time.Second)
			}
			continue
		}

		if err := p.handler(context.Background(), task); err != nil {
			log.WithError(err).WithField("job_id", task.JobID).Error("task handler failed")
		}
	}
}
