package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicepods/internal/config"
	"voicepods/internal/database"
	"voicepods/internal/discord"
	"voicepods/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Create repository
	repository := database.NewRepository(db)

	// Initialize Discord bot
	bot, err := discord.New(cfg.DiscordToken, cfg.CommandPrefix, repository)
	if err != nil {
		log.Fatalf("Failed to create Discord bot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	// Start bot
	if err := bot.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	log.Println("Shutting down bot...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Printf("Error closing Discord session: %v", err)
	}
}
