package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevecastle/depthmask/stream"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("job is not in a valid state for this operation")
)

// JobState represents the current state of a job in the queue.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateError
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes JobState as a lowercase string for JSON.
func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes JobState from a string.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "in_progress":
		*s = StateInProgress
	case "completed":
		*s = StateCompleted
	case "cancelled":
		*s = StateCancelled
	case "error":
		*s = StateError
	default:
		*s = StatePending
	}
	return nil
}

// Job is one render request: a task command, its --flag arguments and the
// color image it reads.
type Job struct {
	ID        string             `json:"id"`
	Command   string             `json:"command"`
	Arguments []string           `json:"arguments"`
	Input     string             `json:"input"`
	Output    string             `json:"output"`
	Stdout    []string           `json:"stdout"`
	State     JobState           `json:"state"`
	Ctx       context.Context    `json:"-"`
	Cancel    context.CancelFunc `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Queue is a thread-safe FIFO of jobs, optionally persisted in sqlite.
type Queue struct {
	mu       sync.Mutex
	Jobs     map[string]*Job
	JobOrder []string
	Signal   chan string
	Db       *sql.DB
}

// NewQueue initializes an in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		Jobs:   make(map[string]*Job),
		Signal: make(chan string, 100),
	}
}

// NewQueueWithDB initializes a queue persisted in db and reloads its jobs.
// Jobs that were in progress are reset to pending.
func NewQueueWithDB(db *sql.DB) *Queue {
	q := NewQueue()
	q.Db = db

	if err := q.createJobsTable(); err != nil {
		log.Printf("Failed to create jobs table: %v", err)
	}
	if err := q.loadJobsFromDB(); err != nil {
		log.Printf("Failed to load jobs from database: %v", err)
	}
	return q
}

func (q *Queue) createJobsTable() error {
	_, err := q.Db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		arguments TEXT, -- JSON array
		input TEXT,
		output TEXT,
		stdout TEXT, -- JSON array
		state INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME,
		errored_at DATETIME,
		job_order_position INTEGER
	)`)
	return err
}

// saveJobToDB persists a job. Callers hold q.mu.
func (q *Queue) saveJobToDB(job *Job) error {
	if q.Db == nil {
		return nil
	}
	argumentsJSON, _ := json.Marshal(job.Arguments)
	stdoutJSON, _ := json.Marshal(job.Stdout)

	position := -1
	for i, id := range q.JobOrder {
		if id == job.ID {
			position = i
			break
		}
	}

	_, err := q.Db.Exec(`
	INSERT OR REPLACE INTO jobs (
		id, command, arguments, input, output, stdout, state,
		created_at, claimed_at, completed_at, errored_at, job_order_position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Command,
		string(argumentsJSON),
		job.Input,
		job.Output,
		string(stdoutJSON),
		int(job.State),
		job.CreatedAt,
		job.ClaimedAt,
		job.CompletedAt,
		job.ErroredAt,
		position,
	)
	return err
}

func (q *Queue) loadJobsFromDB() error {
	if q.Db == nil {
		return nil
	}
	rows, err := q.Db.Query(`
	SELECT id, command, arguments, COALESCE(input, ''), COALESCE(output, ''), stdout, state,
		   created_at, claimed_at, completed_at, errored_at
	FROM jobs
	ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var resumed []string
	for rows.Next() {
		var job Job
		var argumentsJSON, stdoutJSON string
		var state int
		if err := rows.Scan(
			&job.ID,
			&job.Command,
			&argumentsJSON,
			&job.Input,
			&job.Output,
			&stdoutJSON,
			&state,
			&job.CreatedAt,
			&job.ClaimedAt,
			&job.CompletedAt,
			&job.ErroredAt,
		); err != nil {
			log.Printf("Error scanning job row: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(argumentsJSON), &job.Arguments); err != nil {
			job.Arguments = []string{}
		}
		if err := json.Unmarshal([]byte(stdoutJSON), &job.Stdout); err != nil {
			job.Stdout = []string{}
		}
		job.State = JobState(state)

		if job.State == StateInProgress {
			job.State = StatePending
			job.ClaimedAt = time.Time{}
			resumed = append(resumed, job.ID)
		}

		job.Ctx, job.Cancel = context.WithCancel(context.Background())
		q.Jobs[job.ID] = &job
		q.JobOrder = append(q.JobOrder, job.ID)
	}

	if len(resumed) > 0 {
		log.Printf("Resumed %d jobs that were in progress: %v", len(resumed), resumed)
		for _, id := range resumed {
			q.notify(id)
		}
	}
	return rows.Err()
}

func (q *Queue) removeJobFromDB(jobID string) error {
	if q.Db == nil {
		return nil
	}
	_, err := q.Db.Exec("DELETE FROM jobs WHERE id = ?", jobID)
	return err
}

// notify wakes the runners without blocking when the signal buffer is full.
func (q *Queue) notify(id string) {
	select {
	case q.Signal <- id:
	default:
	}
}

// AddJob appends a pending job and returns its id.
func (q *Queue) AddJob(command string, arguments []string, input string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	if _, exists := q.Jobs[id]; exists {
		return "", errors.New("job with given ID already exists")
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        id,
		Command:   command,
		Arguments: arguments,
		Input:     input,
		State:     StatePending,
		Ctx:       ctx,
		Cancel:    cancel,
		CreatedAt: time.Now(),
	}
	q.Jobs[id] = job
	q.JobOrder = append(q.JobOrder, id)

	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job to database: %v", err)
	}
	q.notify(id)
	return id, broadcastJob("create", job)
}

// CopyJob re-queues a job with the same command, arguments and input.
func (q *Queue) CopyJob(id string) (string, error) {
	q.mu.Lock()
	job, exists := q.Jobs[id]
	q.mu.Unlock()
	if !exists {
		return "", ErrJobNotFound
	}
	args := append([]string(nil), job.Arguments...)
	return q.AddJob(job.Command, args, job.Input)
}

// ClaimJob returns the oldest pending job and marks it in progress, or nil
// when none is pending.
func (q *Queue) ClaimJob() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, jobID := range q.JobOrder {
		job := q.Jobs[jobID]
		if job.State != StatePending {
			continue
		}
		job.State = StateInProgress
		job.ClaimedAt = time.Now()
		if err := q.saveJobToDB(job); err != nil {
			log.Printf("Failed to save job state to database: %v", err)
		}
		return job, broadcastJob("update", job)
	}
	return nil, nil
}

// transition moves an in-progress job to a final state.
func (q *Queue) transition(id string, to JobState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, job.State)
	}
	job.State = to
	switch to {
	case StateCompleted:
		job.CompletedAt = time.Now()
	case StateError:
		job.ErroredAt = time.Now()
	}
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job %s state to database: %v", id, err)
	}
	return broadcastJob("update", job)
}

// CompleteJob marks an in-progress job completed.
func (q *Queue) CompleteJob(id string) error {
	return q.transition(id, StateCompleted)
}

// ErrorJob marks an in-progress job errored.
func (q *Queue) ErrorJob(id string) error {
	return q.transition(id, StateError)
}

// CancelJob cancels a pending or in-progress job.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StatePending && job.State != StateInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, job.State)
	}
	job.Cancel()
	job.State = StateCancelled

	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job cancellation to database: %v", err)
	}
	return broadcastJob("update", job)
}

// PushJobStdout appends a log line to the job and streams it.
func (q *Queue) PushJobStdout(id string, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	job.Stdout = append(job.Stdout, line)
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job stdout to database: %v", err)
	}
	return broadcastStdout(id, line)
}

// SetOutput records where a job wrote its result.
func (q *Queue) SetOutput(id, output string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	job.Output = output
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job output to database: %v", err)
	}
	return nil
}

// GetJobs returns copies of all jobs, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.JobOrder))
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.Jobs[q.JobOrder[i]])
	}
	return jobs
}

// GetJob returns a copy of the job, or nil.
func (q *Queue) GetJob(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, exists := q.Jobs[id]
	if !exists {
		return nil
	}
	c := *job
	c.Stdout = append([]string(nil), job.Stdout...)
	return &c
}

// RemoveJob deletes a job that is not running.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State == StateInProgress {
		return fmt.Errorf("%w: %s is running", ErrInvalidState, id)
	}
	q.removeLocked(id)
	return broadcastJob("delete", &Job{ID: id})
}

// ClearNonRunningJobs removes every job that is not in progress and
// returns how many were removed.
func (q *Queue) ClearNonRunningJobs() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var remove []string
	for _, id := range q.JobOrder {
		if q.Jobs[id].State != StateInProgress {
			remove = append(remove, id)
		}
	}
	for _, id := range remove {
		q.removeLocked(id)
		if err := broadcastJob("delete", &Job{ID: id}); err != nil {
			return 0, err
		}
	}
	return len(remove), nil
}

func (q *Queue) removeLocked(id string) {
	delete(q.Jobs, id)
	for i, jobID := range q.JobOrder {
		if jobID == id {
			q.JobOrder = append(q.JobOrder[:i], q.JobOrder[i+1:]...)
			break
		}
	}
	if err := q.removeJobFromDB(id); err != nil {
		log.Printf("Failed to remove job %s from database: %v", id, err)
	}
}

// SerializedJob is the stream payload for job lifecycle events.
type SerializedJob struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
}

// SerializedStdout is the stream payload for a job log line.
type SerializedStdout struct {
	UpdateType string `json:"updateType"`
	Line       string `json:"line"`
}

func broadcastJob(updateType string, job *Job) error {
	j, err := json.Marshal(SerializedJob{UpdateType: updateType, Job: *job})
	if err != nil {
		return fmt.Errorf("error marshalling event: %v", err)
	}
	stream.Broadcast(stream.Message{Type: updateType, Msg: string(j)})
	return nil
}

func broadcastStdout(id, line string) error {
	j, err := json.Marshal(SerializedStdout{UpdateType: "stdout", Line: line})
	if err != nil {
		return fmt.Errorf("error marshalling event: %v", err)
	}
	// Type is `stdout-<job-id>`
	stream.Broadcast(stream.Message{Type: "stdout-" + id, Msg: string(j)})
	return nil
}
