package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transhub/mclocal/internal/cache"
	"github.com/transhub/mclocal/internal/config"
	"github.com/transhub/mclocal/internal/database"
	"github.com/transhub/mclocal/internal/handlers"
	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/queue"
	"github.com/transhub/mclocal/internal/scanner"
	"github.com/transhub/mclocal/internal/store"
	syncengine "github.com/transhub/mclocal/internal/sync"
	"github.com/transhub/mclocal/internal/tracker"
	"github.com/transhub/mclocal/internal/watcher"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-migrate schema
	log.Println("🚀 Synchronizing database schema...")
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	log.Println("✅ Schema synchronized successfully")

	// 4. Seed sync configuration on first run
	ctx := context.Background()
	if _, err := st.GetSyncConfig(ctx); errors.Is(err, store.ErrNotFound) {
		seed := &models.SyncConfig{
			ServerURL:      cfg.Sync.ServerURL,
			APIKey:         cfg.Sync.APIKey,
			AutoSync:       cfg.Sync.AutoSync,
			SyncInterval:   cfg.Sync.IntervalSeconds,
			ConflictPolicy: models.ConflictPolicy(cfg.Sync.ConflictPolicy),
		}
		if err := st.ReplaceSyncConfig(ctx, seed); err != nil {
			log.Fatalf("Failed to seed sync configuration: %v", err)
		}
		log.Printf("✅ Sync configuration seeded (server: %s)", seed.ServerURL)
	} else if err != nil {
		log.Fatalf("Failed to read sync configuration: %v", err)
	}

	// 5. Wire components
	tr := tracker.New(st, models.ConflictPolicy(cfg.Sync.ConflictPolicy))
	q := queue.New(st, cfg.Queue.MaxDepth)
	scanCache := cache.New(st, cfg.Scan.CacheTTLHour)
	scans := scanner.NewService(scanner.FSScanner{}, st, tr, scanCache, q)

	if n, err := q.Reclaim(ctx); err != nil {
		log.Printf("⚠️ Could not reclaim stale tasks: %v", err)
	} else if n > 0 {
		log.Printf("🔄 Reclaimed %d stale tasks from previous run", n)
	}

	pool := queue.NewPool(q, cfg.Queue.Workers)
	pool.Register(queue.TaskScan, scans.TaskHandler)
	if err := pool.Start(); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	engine := syncengine.NewEngine(st, tr, q, cfg.Sync)
	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start sync engine: %v", err)
	}

	var fw *watcher.Watcher
	if len(cfg.Scan.WatchPaths) > 0 {
		fw, err = watcher.New(q, cfg.Scan.WatchPaths)
		if err != nil {
			log.Printf("⚠️ File watcher unavailable: %v", err)
		} else if err := fw.Start(); err != nil {
			log.Printf("⚠️ File watcher not started: %v", err)
			fw = nil
		}
	}

	// 6. Set up HTTP router
	router := handlers.NewRouter(st, tr, engine, scans, scanCache, q)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 MC-Local server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("⚠️ Received signal: %v. Shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if fw != nil {
		fw.Stop()
	}
	engine.Stop()
	pool.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
