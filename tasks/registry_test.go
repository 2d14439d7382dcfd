package tasks

import (
	"testing"

	"github.com/stevecastle/depthmask/jobqueue"
)

// TestGetTasks verifies that built-in tasks are registered
func TestGetTasks(t *testing.T) {
	taskMap := GetTasks()

	expectedTasks := []struct {
		id   string
		name string
	}{
		{"composite", "Composite Over Background"},
		{"mask", "Render Alpha Mask"},
		{"disparity", "Export Disparity"},
	}

	for _, expected := range expectedTasks {
		task, exists := taskMap[expected.id]
		if !exists {
			t.Errorf("Task %q not registered", expected.id)
			continue
		}
		if task.ID != expected.id {
			t.Errorf("Task %q has ID %q; want %q", expected.id, task.ID, expected.id)
		}
		if task.Name != expected.name {
			t.Errorf("Task %q has Name %q; want %q", expected.id, task.Name, expected.name)
		}
		if task.Fn == nil {
			t.Errorf("Task %q has nil Fn", expected.id)
		}
	}
}

func restoreTasks(t *testing.T) {
	tasksMu.Lock()
	original := make(TaskMap, len(tasks))
	for k, v := range tasks {
		original[k] = v
	}
	tasksMu.Unlock()
	t.Cleanup(func() {
		tasksMu.Lock()
		tasks = original
		tasksMu.Unlock()
	})
}

// TestRegisterTaskOverwrite tests that registering with same ID overwrites
func TestRegisterTaskOverwrite(t *testing.T) {
	restoreTasks(t)

	noop := func(j *jobqueue.Job, q *jobqueue.Queue) error { return nil }
	RegisterTask("overwrite-test", "First Version", noop)
	RegisterTask("overwrite-test", "Second Version", noop)

	task := GetTasks()["overwrite-test"]
	if task.Name != "Second Version" {
		t.Errorf("Task should be overwritten; got Name = %q", task.Name)
	}
}

func TestGetTasksReturnsCopy(t *testing.T) {
	restoreTasks(t)

	m := GetTasks()
	delete(m, "composite")
	if _, ok := GetTasks()["composite"]; !ok {
		t.Error("mutating the GetTasks result changed the registry")
	}
}
