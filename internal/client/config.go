package client

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chat-app/internal/attachment"
	"chat-app/internal/conversation"
	"chat-app/internal/device"
	"chat-app/internal/message"
)

// Config holds client settings derived from CLI flags and the environment.
type Config struct {
	BackendURL   string
	DataDir      string
	Name         string
	Color        string
	Room         string
	UseTUI       bool
	NoColor      bool
	ProbeEvery   time.Duration
	RecordSource string

	Denied map[attachment.Permission]bool
	Fix    *message.Location
}

// LoadConfig parses CLI flags and returns a populated Config.
func LoadConfig() (*Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	var deny, location string

	fs.StringVar(&cfg.BackendURL, "backend", envOr("CHAT_BACKEND_URL", "http://127.0.0.1:8089"), "chat backend base url")
	fs.StringVar(&cfg.DataDir, "data-dir", envOr("CHAT_DATA_DIR", "chat-data"), "directory for the local cache and recordings")
	fs.StringVar(&cfg.Name, "name", "", "display name (skips the name prompt)")
	fs.StringVar(&cfg.Color, "color", "", "background color: palette index 1-4 or #RRGGBB")
	fs.StringVar(&cfg.Room, "room", conversation.DefaultRoom, "room to join")
	fs.BoolVar(&cfg.UseTUI, "tui", false, "enable terminal UI mode")
	fs.BoolVar(&cfg.NoColor, "no-color", false, "disable ANSI colors in CLI output")
	fs.DurationVar(&cfg.ProbeEvery, "probe-every", 5*time.Second, "interval between connectivity probes")
	fs.StringVar(&cfg.RecordSource, "record-source", os.Getenv("CHAT_RECORD_SOURCE"), "audio file used as microphone input")
	fs.StringVar(&deny, "deny", os.Getenv("CHAT_DENY"), "comma-separated permissions to refuse (library,camera,location,microphone)")
	fs.StringVar(&location, "location", os.Getenv("CHAT_LOCATION"), "GPS fix as lat,lng")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	denied, err := device.ParsePermissions(deny)
	if err != nil {
		return nil, err
	}
	cfg.Denied = denied
	if cfg.Fix, err = parseFix(location); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("client: backend url required")
	}
	if c.DataDir == "" {
		return errors.New("client: data dir required")
	}
	if strings.TrimSpace(c.Room) == "" {
		return errors.New("client: room required")
	}
	return nil
}

func (c *Config) CachePath() string { return filepath.Join(c.DataDir, "cache.db") }
func (c *Config) RecordDir() string { return filepath.Join(c.DataDir, "recordings") }
func (c *Config) LogPath() string   { return filepath.Join(c.DataDir, "chat.log") }

func parseFix(v string) (*message.Location, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("client: location %q: want lat,lng", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("client: latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("client: longitude %q", parts[1])
	}
	return &message.Location{Latitude: lat, Longitude: lng}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
