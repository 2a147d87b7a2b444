package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chat-app/internal/client"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := client.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := client.NewApp(cfg, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("init client: %v", err)
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx); err != nil {
		log.Printf("chat stopped: %v", err)
	}
	log.Println("shutting down...")
}
