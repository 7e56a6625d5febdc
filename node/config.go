package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Network       string `json:"network"`
	DataDir       string `json:"data_dir"`
	EventFeed     string `json:"event_feed"`
	OutboxDir     string `json:"outbox_dir"`
	LogLevel      string `json:"log_level"`
	Confirmations int    `json:"confirmations"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".arbiter"
	}
	return filepath.Join(home, ".arbiter")
}

func DefaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		Network:       "devnet",
		DataDir:       dataDir,
		EventFeed:     "",
		OutboxDir:     filepath.Join(dataDir, "outbox"),
		LogLevel:      "info",
		Confirmations: 1,
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(cfg.OutboxDir) == "" {
		return errors.New("outbox_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.Confirmations <= 0 {
		return errors.New("confirmations must be > 0")
	}
	if cfg.Confirmations > 100 {
		return errors.New("confirmations must be <= 100")
	}
	return nil
}
