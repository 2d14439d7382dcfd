package tasks

import (
	"sync"

	"github.com/stevecastle/depthmask/jobqueue"
)

// TaskFunc runs a claimed job. Returning an error marks the job errored,
// or cancelled when its context is done.
type TaskFunc func(j *jobqueue.Job, q *jobqueue.Queue) error

// Task represents a runnable unit bound to the jobqueue.
type Task struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Fn   TaskFunc `json:"-"`
}

type TaskMap map[string]Task

var (
	tasksMu sync.RWMutex
	tasks   = make(TaskMap)
)

func init() {
	// Register built-in tasks
	RegisterTask("composite", "Composite Over Background", compositeTask)
	RegisterTask("mask", "Render Alpha Mask", maskTask)
	RegisterTask("disparity", "Export Disparity", disparityTask)
}

func RegisterTask(id, name string, fn TaskFunc) {
	tasksMu.Lock()
	defer tasksMu.Unlock()
	tasks[id] = Task{
		ID:   id,
		Name: name,
		Fn:   fn,
	}
}

// GetTasks returns a snapshot of the registered tasks.
func GetTasks() TaskMap {
	tasksMu.RLock()
	defer tasksMu.RUnlock()
	m := make(TaskMap, len(tasks))
	for k, v := range tasks {
		m[k] = v
	}
	return m
}
