package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"chat-app/internal/authserver"
	"chat-app/internal/backend"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := backend.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL == "" {
		log.Print("DATABASE_URL not set; running without PostgreSQL persistence")
	} else {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if err := authserver.RunMigrations(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	srv, err := backend.New(backend.Options{
		DB:         db,
		DataDir:    cfg.DataDir,
		PublicURL:  cfg.PublicURL,
		RequestLog: cfg.RequestLog,
	})
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx, cfg.Addr); err != nil {
		log.Fatalf("backend stopped: %v", err)
	}
}
