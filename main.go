package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	_ "modernc.org/sqlite"

	"github.com/stevecastle/depthmask/appconfig"
	"github.com/stevecastle/depthmask/auth"
	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/runners"
	"github.com/stevecastle/depthmask/server"
	"github.com/stevecastle/depthmask/source"
	"github.com/stevecastle/depthmask/stream"
	"github.com/stevecastle/depthmask/tasks"
)

// -----------------------------------------------------------------------------
// Database initialization
// -----------------------------------------------------------------------------

func initDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}
	// The queue and auth tables share one writer.
	db.SetMaxOpenConns(1)
	log.Printf("Connected to SQLite database at: %s", dbPath)
	return db, nil
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

func initAuth(db *sql.DB, secret string) (*auth.Service, error) {
	svc, err := auth.NewService(db, secret)
	if err != nil {
		return nil, err
	}
	password := os.Getenv("DEPTHMASK_ADMIN_PASSWORD")
	generated := password == ""
	if generated {
		password = uuid.NewString()
	}
	created, err := svc.CreateDefaultUser(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create default user: %v", err)
	}
	if created && generated {
		log.Printf("Created user \"admin\" with password %s", password)
	}
	return svc, nil
}

// -----------------------------------------------------------------------------
// main – start queue, runners and HTTP server, stop cleanly on a signal.
// -----------------------------------------------------------------------------

func main() {
	addr := flag.String("addr", "", "listen address (default from config)")
	workers := flag.Int("workers", 0, "concurrent render jobs (default from config)")
	noAuth := flag.Bool("no-auth", false, "serve without authentication")
	open := flag.Bool("open", false, "open the health page in a browser once listening")
	flag.Parse()

	// ––– config –––
	cfg, cfgPath, err := appconfig.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Using config at: %s", cfgPath)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if err := cfg.Compositor.Validate(); err != nil {
		log.Fatalf("Invalid compositor defaults in %s: %v", cfgPath, err)
	}
	appconfig.Set(cfg)
	tasks.SetLoader(source.NewLoader(cfg.S3))

	// ––– database –––
	db, err := initDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// ––– job queue and runners –––
	log.Println("Initializing job queue with database persistence...")
	queue := jobqueue.NewQueueWithDB(db)
	log.Printf("Job queue initialized. Current jobs: %d", len(queue.GetJobs()))
	pool := runners.New(queue, cfg.Workers)

	deps := &server.Dependencies{Queue: queue, Runners: pool}
	if !*noAuth {
		deps.Auth, err = initAuth(db, cfg.JWTSecret)
		if err != nil {
			log.Fatalf("Failed to initialize auth: %v", err)
		}
	} else {
		log.Println("Authentication disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("depthmask-server: %v", err)
		}
	}()

	if *open {
		host := cfg.ListenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		if err := browser.OpenURL("http://" + host + "/health"); err != nil {
			log.Printf("Failed to open browser: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdown(srv, pool)
}

func shutdown(srv *http.Server, pool *runners.Runners) {
	log.Println("Shutting down depthmask server...")

	log.Println("Shutting down stream connections...")
	stream.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server shutdown complete")
	}

	log.Println("Waiting for running jobs...")
	pool.Shutdown()
	log.Println("depthmask server shutdown complete")
}
