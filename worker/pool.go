// Package worker provides a generic worker pool for processing queued
// jobs. It demonstrates, but does not own, scheduling against
// repository.QueueStore: the storage layer's dequeue already satisfies
// the "parallel workers sharing one storage backend" model through its
// atomic compare-and-swap lease, whether or not anything in this
// package runs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/repository"
)

// Processor handles one dequeued task. An error marks the task failed
// (subject to its own retry policy); nil marks it completed.
type Processor interface {
	Process(ctx context.Context, task *domain.ProcessingTask) (result map[string]interface{}, err error)
}

// Config configures the worker pool: how many concurrent workers poll
// each task type, and how long a worker sleeps after an empty dequeue.
type Config struct {
	WorkersPerType map[string]int
	PollInterval   time.Duration
}

// DefaultConfig returns a modest configuration: two workers each for
// crawl_page and parse_content, one for detect_change, polling every
// second.
func DefaultConfig() Config {
	return Config{
		WorkersPerType: map[string]int{
			"crawl_page":    2,
			"parse_content": 2,
			"detect_change": 1,
		},
		PollInterval: time.Second,
	}
}

// Pool manages a set of workers, one goroutine per configured task
// type/worker slot, each polling repository.QueueStore.DequeueNextTask.
type Pool struct {
	queue     *repository.QueueStore
	processor Processor
	config    Config
	log       *logging.ContextLogger
	stop      chan struct{}
}

func NewPool(queue *repository.QueueStore, processor Processor, config Config) *Pool {
	return &Pool{
		queue:     queue,
		processor: processor,
		config:    config,
		log:       logging.ComponentLogger("worker_pool"),
		stop:      make(chan struct{}),
	}
}

// Start launches every configured worker goroutine and returns
// immediately. Call Stop to shut the pool down.
func (p *Pool) Start(ctx context.Context) {
	p.log.WithField("worker_count", p.workerCount()).Info("worker pool started")
	for taskType, count := range p.config.WorkersPerType {
		for i := 0; i < count; i++ {
			id := fmt.Sprintf("%s-%d", taskType, i)
			go p.runWorker(ctx, id, taskType)
		}
	}
}

// Stop signals every worker to exit after its current iteration.
func (p *Pool) Stop() {
	close(p.stop)
}

func (p *Pool) workerCount() int {
	total := 0
	for _, n := range p.config.WorkersPerType {
		total += n
	}
	return total
}

func (p *Pool) runWorker(ctx context.Context, workerID, taskType string) {
	log := p.log.WithField("worker_id", workerID).WithField("task_type", taskType)
	log.Info("worker started")
	for {
		select {
		case <-p.stop:
			log.Info("worker stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.DequeueNextTask(ctx, taskType)
		if err != nil {
			log.WithError(err).Error("dequeue failed")
			time.Sleep(p.config.PollInterval)
			continue
		}
		if task == nil {
			time.Sleep(p.config.PollInterval)
			continue
		}

		if err := p.queue.MarkTaskProcessing(ctx, task.ID, workerID); err != nil {
			log.WithError(err).Error("mark processing failed")
		}

		result, procErr := p.processor.Process(ctx, task)
		if procErr != nil {
			if err := p.queue.FailTask(ctx, task.ID, procErr.Error(), true); err != nil {
				log.WithError(err).Error("fail task failed")
			}
			continue
		}
		if err := p.queue.CompleteTask(ctx, task.ID, result); err != nil {
			log.WithError(err).Error("complete task failed")
		}
	}
}
