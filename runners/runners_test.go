package runners

import (
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/tasks"
)

func setupTestQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return jobqueue.NewQueueWithDB(db)
}

// waitForState polls until the job reaches want or the deadline passes.
func waitForState(t *testing.T, q *jobqueue.Queue, id string, want jobqueue.JobState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if j := q.GetJob(id); j != nil && j.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	j := q.GetJob(id)
	t.Fatalf("job %s state = %v; want %v", id, j.State, want)
}

// TestRunnersShutdown verifies graceful shutdown
func TestRunnersShutdown(t *testing.T) {
	r := New(setupTestQueue(t), 2)

	done := make(chan struct{})
	go func() {
		r.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Shutdown did not complete in time")
	}
	// A second shutdown is a no-op.
	r.Shutdown()
}

func TestRunJobOutcomes(t *testing.T) {
	tasks.RegisterTask("test-ok", "ok", func(j *jobqueue.Job, q *jobqueue.Queue) error {
		return nil
	})
	tasks.RegisterTask("test-fail", "fail", func(j *jobqueue.Job, q *jobqueue.Queue) error {
		return errors.New("boom")
	})
	tasks.RegisterTask("test-block", "block", func(j *jobqueue.Job, q *jobqueue.Queue) error {
		<-j.Ctx.Done()
		return j.Ctx.Err()
	})

	q := setupTestQueue(t)
	r := New(q, 4)
	defer r.Shutdown()

	ok, _ := q.AddJob("test-ok", nil, "a.png")
	fail, _ := q.AddJob("test-fail", nil, "b.png")
	missing, _ := q.AddJob("no-such-task", nil, "c.png")
	block, _ := q.AddJob("test-block", nil, "d.png")

	waitForState(t, q, ok, jobqueue.StateCompleted)
	waitForState(t, q, fail, jobqueue.StateError)
	waitForState(t, q, missing, jobqueue.StateError)
	waitForState(t, q, block, jobqueue.StateInProgress)

	if err := q.CancelJob(block); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	waitForState(t, q, block, jobqueue.StateCancelled)

	if got := q.GetJob(fail).Stdout; len(got) == 0 || got[len(got)-1] != "Error: boom" {
		t.Errorf("fail stdout = %q; want trailing \"Error: boom\"", got)
	}
}

func TestWorkerLimit(t *testing.T) {
	var active, peak int32
	release := make(chan struct{})
	tasks.RegisterTask("test-limit", "limit", func(j *jobqueue.Job, q *jobqueue.Queue) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	})

	q := setupTestQueue(t)
	r := New(q, 2)
	defer r.Shutdown()

	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := q.AddJob("test-limit", nil, "x.png")
		ids = append(ids, id)
	}
	waitForState(t, q, ids[1], jobqueue.StateInProgress)
	if got := r.Running(); got != 2 {
		t.Errorf("Running() = %d; want 2", got)
	}
	close(release)
	for _, id := range ids {
		waitForState(t, q, id, jobqueue.StateCompleted)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d; want <= 2", p)
	}
}
