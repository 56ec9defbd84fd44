package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Vivekb0311/sla/internal/config"
	"github.com/Vivekb0311/sla/services"
	"github.com/Vivekb0311/sla/workers"
)

func main() {
	log.Println("Starting SLA workers...")

	// Load Config
	configPath := os.Getenv("SLA_CONFIG_PATH")

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	// Test database connection
	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	} else {
		log.Println("  Set database timezone to UTC")
	}

	log.Println("  Connected to database successfully")

	// Initialize services
	notifier := services.NewNotificationService(pg)

	// Initialize workers
	interval := time.Duration(config.App.SweepIntervalSeconds) * time.Second
	slaWorker := workers.NewSlaWorker(pg, notifier, interval)
	notificationWorker := workers.NewNotificationWorker(pg, notifier)

	// Start workers in separate goroutines
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Starting breach sweep...")
		slaWorker.StartBreachSweep()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Starting escalation sweep...")
		slaWorker.StartEscalationSweep()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Starting notification worker...")
		notificationWorker.StartNotificationWorker()
	}()

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Workers started successfully. Press Ctrl+C to stop.")
	<-c

	log.Println("Shutting down workers...")
	// Workers will stop when main goroutine exits
}
