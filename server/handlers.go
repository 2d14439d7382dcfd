package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/stevecastle/depthmask/auth"
	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/stream"
	"github.com/stevecastle/depthmask/tasks"
)

// -----------------------------------------------------------------------------
// Health and auth
// -----------------------------------------------------------------------------

var startedAt = time.Now()

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running := 0
		if deps.Runners != nil {
			running = deps.Runners.Running()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"uptime":       time.Since(startedAt).Round(time.Second).String(),
			"running_jobs": running,
			"total_jobs":   len(deps.Queue.GetJobs()),
			"stream":       stream.Stats(),
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			http.Error(w, "Authentication disabled", http.StatusNotFound)
			return
		}
		var req loginRequest
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		token, err := deps.Auth.Login(req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     auth.TokenCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(deps.Auth.TokenTTL),
		})
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

type taskInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func tasksHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var list []taskInfo
		for _, t := range tasks.GetTasks() {
			list = append(list, taskInfo{ID: t.ID, Name: t.Name})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		writeJSON(w, http.StatusOK, list)
	}
}

func jobsListHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Queue.GetJobs())
	}
}

func detailHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := deps.Queue.GetJob(mux.Vars(r)["id"])
		if job == nil {
			writeError(w, jobqueue.ErrJobNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// CreateJobRequest queues one render. Arguments are --key=value options.
type CreateJobRequest struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
	Input     string   `json:"input"`
}

func createJobHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if _, ok := tasks.GetTasks()[req.Command]; !ok {
			http.Error(w, fmt.Sprintf("unknown command %q", req.Command), http.StatusBadRequest)
			return
		}
		if req.Input == "" {
			http.Error(w, "input is required", http.StatusBadRequest)
			return
		}
		// Reject bad options now rather than when a runner claims the job.
		if _, err := tasks.ParseRenderOptions(req.Arguments, tasks.RenderOptions{}); err != nil {
			writeError(w, err)
			return
		}

		id, err := deps.Queue.AddJob(req.Command, req.Arguments, req.Input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func cancelHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Queue.CancelJob(mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled successfully"})
	}
}

func copyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		newID, err := deps.Queue.CopyJob(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": newID, "message": "Job copied successfully"})
	}
}

func removeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Queue.RemoveJob(mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearNonRunningJobsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared, err := deps.Queue.ClearNonRunningJobs()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cleared_count": cleared,
			"message":       fmt.Sprintf("Cleared %d non-running jobs", cleared),
		})
	}
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func usersListHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			http.Error(w, "Authentication disabled", http.StatusNotFound)
			return
		}
		users, err := deps.Auth.ListUsers()
		if err != nil {
			writeError(w, err)
			return
		}
		if users == nil {
			users = []auth.User{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func createUserHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			http.Error(w, "Authentication disabled", http.StatusNotFound)
			return
		}
		var req loginRequest
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := deps.Auth.Register(req.Username, req.Password); err != nil {
			if errors.Is(err, auth.ErrInvalidCreds) {
				http.Error(w, "username and password are required", http.StatusBadRequest)
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
	}
}

func deleteUserHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			http.Error(w, "Authentication disabled", http.StatusNotFound)
			return
		}
		if err := deps.Auth.DeleteUser(mux.Vars(r)["username"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
