// Package server exposes the render queue and live previews over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevecastle/depthmask/auth"
	"github.com/stevecastle/depthmask/compositor"
	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/render"
	"github.com/stevecastle/depthmask/runners"
	"github.com/stevecastle/depthmask/source"
	"github.com/stevecastle/depthmask/stream"
)

// Dependencies are the services handlers read from.
type Dependencies struct {
	Queue   *jobqueue.Queue
	Runners *runners.Runners
	// Auth guards every route except health, login and metrics. Nil
	// leaves the server open.
	Auth *auth.Service
}

// NewRouter wires every route and middleware.
func NewRouter(deps *Dependencies) http.Handler {
	r := mux.NewRouter()
	r.Use(Metrics, Logger)

	gz := func(h http.HandlerFunc) http.Handler { return gzhttp.GzipHandler(h) }

	r.Handle("/health", gz(healthHandler(deps))).Methods(http.MethodGet)
	r.Handle("/login", gz(loginHandler(deps))).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if deps.Auth != nil {
		api.Use(deps.Auth.Middleware, identify)
	}
	api.Handle("/preview", previewHandler(deps)).Methods(http.MethodGet)
	api.Handle("/tasks", gz(tasksHandler(deps))).Methods(http.MethodGet)
	api.Handle("/jobs", gz(jobsListHandler(deps))).Methods(http.MethodGet)
	api.Handle("/jobs", gz(createJobHandler(deps))).Methods(http.MethodPost)
	api.Handle("/jobs/clear", gz(clearNonRunningJobsHandler(deps))).Methods(http.MethodPost)
	api.Handle("/jobs/{id}", gz(detailHandler(deps))).Methods(http.MethodGet)
	api.Handle("/jobs/{id}", gz(removeHandler(deps))).Methods(http.MethodDelete)
	api.Handle("/jobs/{id}/cancel", gz(cancelHandler(deps))).Methods(http.MethodPost)
	api.Handle("/jobs/{id}/copy", gz(copyHandler(deps))).Methods(http.MethodPost)
	api.HandleFunc("/stream", stream.StreamHandler).Methods(http.MethodGet)
	api.Handle("/users", gz(usersListHandler(deps))).Methods(http.MethodGet)
	api.Handle("/users", gz(createUserHandler(deps))).Methods(http.MethodPost)
	api.Handle("/users/{username}", gz(deleteUserHandler(deps))).Methods(http.MethodDelete)

	return CORS(r)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, compositor.ErrMissingAuxiliaryData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, compositor.ErrExtentMismatch),
		errors.Is(err, compositor.ErrDegenerateCalibration),
		errors.Is(err, compositor.ErrInvalidParameter),
		errors.Is(err, render.ErrUnknownFormat),
		errors.Is(err, source.ErrBadRef):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrNotFound),
		errors.Is(err, jobqueue.ErrJobNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobqueue.ErrInvalidState),
		errors.Is(err, auth.ErrUserExists),
		errors.Is(err, auth.ErrLastUser):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCreds):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
