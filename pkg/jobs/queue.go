// Package jobs provides the shared background-job queue that sequences
// load, reparse and re-resolve work for a solution, plus the shutdown
// coordinator that lets disposal-time cache writes delay process exit.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Job is one unit of scheduled background work.
type Job struct {
	ID        string
	Kind      string
	ProjectID string
	Run       func(ctx context.Context)
	queuedAt  time.Time
}

// Queue runs submitted jobs one at a time on a single dedicated worker
// goroutine, in submission order. Submit never blocks; the queue is
// unbounded. Jobs observe queue shutdown through their context.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Job
	running bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	tracer trace.Tracer
}

// NewQueue creates a queue and starts its worker.
func NewQueue() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		tracer: otel.Tracer("indexd/jobs"),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit enqueues a job. Submissions after Close are dropped with a
// warning.
func (q *Queue) Submit(kind, projectID string, run func(ctx context.Context)) {
	job := Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		ProjectID: projectID,
		Run:       run,
		queuedAt:  time.Now(),
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Warn().Str("kind", kind).Str("project_id", projectID).Msg("Job submitted after queue close, dropping")
		return
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.cond.Signal()
}

// Len returns the number of jobs waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain blocks until the queue is empty and the worker is idle. Jobs
// submitted while draining are waited for as well.
func (q *Queue) Drain() {
	q.mu.Lock()
	for (len(q.pending) > 0 || q.running) && !q.closed {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close cancels the job context, waits for the current job to return and
// discards the rest of the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.cond.Broadcast()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.running = true
		q.mu.Unlock()

		q.run(job)

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

func (q *Queue) run(job Job) {
	ctx, span := q.tracer.Start(q.ctx, "job."+job.Kind,
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.project_id", job.ProjectID),
		))
	defer span.End()

	started := time.Now()
	log.Debug().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Str("project_id", job.ProjectID).
		Dur("queued", started.Sub(job.queuedAt)).
		Msg("Job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("job_id", job.ID).
				Str("kind", job.Kind).
				Msg("Job panicked")
		}
	}()
	job.Run(ctx)

	log.Debug().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Dur("elapsed", time.Since(started)).
		Msg("Job finished")
}
