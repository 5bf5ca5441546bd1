package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meeting-relay/internal/api"
	"meeting-relay/internal/config"
	"meeting-relay/internal/db"
	"meeting-relay/internal/meeting"
	"meeting-relay/internal/repository"
	"meeting-relay/internal/tasks"
)

func main() {

	cfg := config.Load()

	pool, err := db.Connect(cfg.DatabaseURL)

	if err != nil {
		log.Fatal("Failed to connect to database:", err)
		return
	}
	defer pool.Close()

	repo := repository.NewMeetingRepo(pool)

	dir := meeting.NewDirectory()
	router := meeting.NewRouter(dir, repo)

	cleaner := tasks.NewMeetingCleaner(repo)
	cleaner.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(cfg, dir, router, repo),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("🚀 Signaling relay starting on :%s...\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				log.Fatalf("ListenAndServe: %v", err)
			}
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	fmt.Println("Graceful shutdown complete. Goodnight!")
}
