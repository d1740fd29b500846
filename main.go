package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (empty keeps sessions in memory)")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Card catalog YAML (default: built-in)")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Simulation tick interval")
	flag.Parse()

	var db *DB
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("open database %s: %v", cfg.DBPath, err)
		}
		defer db.Close()
		log.Printf("Database opened at %s", cfg.DBPath)
	}

	engine, err := NewEngine(cfg, FileCatalog{Path: cfg.CatalogPath}, db)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	engine.Start(context.Background())

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: cfg.Addr, Handler: engine.Handler()}

	go func() {
		log.Printf("Server starting on %s (tick %s)", cfg.Addr, cfg.TickInterval)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Close()
	}
	engine.Stop()
}
