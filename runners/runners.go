package runners

import (
	"context"
	"log"
	"sync"

	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/tasks"
)

// Runners manages a bounded pool of concurrent job runners.
type Runners struct {
	queue   *jobqueue.Queue
	limit   int
	mu      sync.Mutex
	running int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
}

// New creates a pool that runs at most workers jobs at once and starts
// listening to the queue's signal channel.
func New(queue *jobqueue.Queue, workers int) *Runners {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runners{
		queue:  queue,
		limit:  workers,
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.queue.Signal:
				r.CheckForJobs()
			}
		}
	}()

	// Pick up jobs resumed from the database.
	r.CheckForJobs()
	return r
}

// Shutdown stops accepting new jobs and waits for running jobs to finish.
func (r *Runners) Shutdown() {
	r.cancel()
	r.wg.Wait()
	r.jobs.Wait()
}

// Running returns the number of jobs currently executing.
func (r *Runners) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CheckForJobs claims and starts pending jobs until the pool is full.
func (r *Runners) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fillLocked()
}

func (r *Runners) fillLocked() {
	for r.running < r.limit && r.ctx.Err() == nil {
		job, err := r.queue.ClaimJob()
		if err != nil {
			log.Printf("claim job: %v", err)
		}
		if job == nil {
			return
		}
		r.runJob(job)
	}
}

// runJob runs one job in its own goroutine. Callers hold r.mu.
func (r *Runners) runJob(j *jobqueue.Job) {
	r.running++
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer func() {
			r.mu.Lock()
			r.running--
			r.fillLocked()
			r.mu.Unlock()
		}()

		task, exists := tasks.GetTasks()[j.Command]
		if !exists {
			r.queue.PushJobStdout(j.ID, "Task not found: "+j.Command)
			r.queue.ErrorJob(j.ID)
			return
		}
		if err := task.Fn(j, r.queue); err != nil {
			r.queue.PushJobStdout(j.ID, "Error: "+err.Error())
			// If context is canceled, prefer Cancelled state
			select {
			case <-j.Ctx.Done():
				_ = r.queue.CancelJob(j.ID)
			default:
				_ = r.queue.ErrorJob(j.ID)
			}
			return
		}
		// Ensure job state is finalized even if the task did not
		if job := r.queue.GetJob(j.ID); job != nil && job.State == jobqueue.StateInProgress {
			_ = r.queue.CompleteJob(j.ID)
		}
	}()
}
