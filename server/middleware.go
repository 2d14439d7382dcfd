package server

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stevecastle/depthmask/auth"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "depthmask_http_response_time_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"path", "method"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthmask_http_requests_total",
		Help: "Number of HTTP requests.",
	}, []string{"path", "method", "code"})
	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depthmask_render_duration_seconds",
		Help:    "Time spent loading and compositing a preview.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"view", "mode"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	user   string
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeName labels metrics by route template so ids do not explode the
// label space.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Logger logs each request with its duration and status.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.user != "" {
			log.Println(time.Since(start), r.Method, r.URL.Path, rec.status, rec.user)
			return
		}
		log.Println(time.Since(start), r.Method, r.URL.Path, rec.status)
	})
}

// identify hands the authenticated username back to Logger. It runs after
// the auth middleware, inside the router's Logger.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			if claims, ok := auth.FromContext(r.Context()); ok {
				rec.user = claims.Username
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Metrics records request counts and durations per route.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := routeName(r)
		httpDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(path, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// CORS allows the browser client on any origin.
func CORS(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.ExposedHeaders([]string{"Content-Length", "X-Observed-Min", "X-Observed-Max"}),
	)(next)
}
