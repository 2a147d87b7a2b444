package backend

import (
	"errors"
	"flag"
	"os"
)

// Config captures the backend settings derived from CLI flags and the
// environment.
type Config struct {
	Addr        string
	DataDir     string
	PublicURL   string
	DatabaseURL string
	RequestLog  bool
}

// LoadConfig parses CLI flags and builds a Config instance.
func LoadConfig() (*Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Addr, "addr", envOr("CHAT_BACKEND_ADDR", ":8089"), "address the backend listens on")
	fs.StringVar(&cfg.DataDir, "data-dir", envOr("CHAT_BACKEND_DATA", "chat-backend-data"), "directory for room collections and blobs")
	fs.StringVar(&cfg.PublicURL, "public-url", os.Getenv("CHAT_PUBLIC_URL"), "externally reachable base url used in storage links")
	fs.BoolVar(&cfg.RequestLog, "request-log", true, "log every request through httplog")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("backend: addr required")
	}
	if c.DataDir == "" {
		return errors.New("backend: data dir required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
