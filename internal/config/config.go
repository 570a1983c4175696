// Package config loads the single configuration struct the core accepts.
// It never parses command-line flags — that is an external-collaborator
// concern (the TUI's job); this package only knows
// how to populate a Config from the environment (optionally backed by a
// .env file), which a frontend may call before constructing the core, or
// may skip entirely in favor of building a Config literal itself.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is the single struct the core accepts.
type Config struct {
	StorageRoot     string `env:"SHADOWBOX_STORAGE_ROOT"`
	DBPath          string `env:"SHADOWBOX_DB_PATH"`
	AutoLockMinutes int    `env:"SHADOWBOX_AUTO_LOCK_MINUTES" envDefault:"15"`
	MaxFileSize     int64  `env:"SHADOWBOX_MAX_FILE_SIZE" envDefault:"104857600"`
	SharePort       int    `env:"SHADOWBOX_SHARE_PORT" envDefault:"0"`
}

// Load reads a .env file if present, then populates a Config from the
// environment, filling in path defaults relative to the user's home
// directory when unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = filepath.Join(home, ".shadowbox", "storage")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(home, ".shadowbox", "shadowbox.db")
	}
	return cfg, nil
}
