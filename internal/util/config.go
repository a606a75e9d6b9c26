// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for Config
const (
	DefaultListenPort   = 8765
	DefaultPollInterval = time.Millisecond
	DefaultHistoryLimit = 1000
	DefaultMaxSessions  = 16
)

// Config holds jsvm configuration settings
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" description:"How often the attach loop samples the context state" default:"1ms"`
	ListenPort   int           `yaml:"listen_port" description:"HTTP port for jsvmd" default:"8765"`
	ListenAddr   string        `yaml:"listen_addr" description:"Bind address for jsvmd" default:"127.0.0.1"`
	MaxSessions  int           `yaml:"max_sessions" description:"Maximum concurrent jsvmd sessions" default:"16"`

	ModulesDir   string `yaml:"modules_dir" description:"Directory of .js modules available to require() (relative to data dir)" default:"modules"`
	WatchModules bool   `yaml:"watch_modules" description:"Reload modules when files in modules_dir change" default:"true"`

	HistoryFile  string `yaml:"history_file" description:"REPL history file (relative to data dir, empty disables)" default:"history"`
	HistoryLimit int    `yaml:"history_limit" description:"Maximum REPL history entries" default:"1000"`

	Stdio bool `yaml:"stdio" description:"Mirror script output straight to the terminal as it is produced" default:"false"`

	// Backend process for JSON-RPC methods the host does not implement
	Backend []string `yaml:"backend" description:"Command (argv) of a JSON-RPC backend process for unknown methods" default:"[]"`
}

// DefaultConfig returns the default configuration for runtime use.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		ListenPort:   DefaultListenPort,
		ListenAddr:   "127.0.0.1",
		MaxSessions:  DefaultMaxSessions,
		ModulesDir:   "modules",
		WatchModules: true,
		HistoryFile:  "history",
		HistoryLimit: DefaultHistoryLimit,
	}
}

// DefaultDataDir is the default data directory
const DefaultDataDir = "~/.jsvm"

// ConfigFile is the config file name inside the data directory.
const ConfigFile = "config.yaml"

// GetDataDir returns the data directory.
// Resolution order: -d flag > JSVM_DATA env var > ~/.jsvm
func GetDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envDir := os.Getenv("JSVM_DATA"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "" // Can't determine default
	}
	return filepath.Join(home, ".jsvm")
}

// GetConfigPath returns the path to the config file in the data directory.
// Returns empty string if dataDir is empty.
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, ConfigFile)
}

// ResolvePath resolves a path relative to baseDir if not absolute.
// Returns path unchanged if empty or already absolute.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads configuration from config.yaml in the data directory.
// If dataDir is empty or the file doesn't exist, returns default config.
// Relative paths are resolved against the data directory.
func LoadConfig(dataDir string) (Config, error) {
	config, err := LoadConfigFromPath(GetConfigPath(dataDir))
	if err != nil {
		return config, err
	}

	config.ModulesDir = ResolvePath(config.ModulesDir, dataDir)
	config.HistoryFile = ResolvePath(config.HistoryFile, dataDir)
	return config, nil
}

// LoadConfigFromPath loads configuration from the specified path.
// If path is empty or the file doesn't exist, returns default config.
func LoadConfigFromPath(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay config file values
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks value ranges. Zero values fall back to defaults.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative (got %v)", c.PollInterval)
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.PollInterval > time.Second {
		return fmt.Errorf("poll_interval %v is too coarse (max 1s)", c.PollInterval)
	}

	if c.ListenPort == 0 {
		c.ListenPort = defaults.ListenPort
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port %d (must be 1-65535)", c.ListenPort)
	}

	if c.MaxSessions == 0 {
		c.MaxSessions = defaults.MaxSessions
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be positive (got %d)", c.MaxSessions)
	}

	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative (got %d)", c.HistoryLimit)
	}

	for i, arg := range c.Backend {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("backend argument %d is empty", i)
		}
	}
	return nil
}

// ListenAddress returns host:port for the HTTP listener.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

// DisplayConfig prints the current configuration
func DisplayConfig(dataDir string) {
	config, err := LoadConfig(dataDir)
	configPath := GetConfigPath(dataDir)

	fmt.Println("Current Configuration:")
	fmt.Println("=====================")
	fmt.Printf("Data dir:      %s\n", dataDir)
	fmt.Printf("Config file:   %s\n", configPath)
	if err != nil {
		fmt.Printf("Error:         %v\n", err)
		fmt.Println()
		return
	}
	fmt.Printf("Poll interval: %v\n", config.PollInterval)
	fmt.Printf("Listen:        %s\n", config.ListenAddress())
	fmt.Printf("Max sessions:  %d\n", config.MaxSessions)
	fmt.Printf("Modules dir:   %s (watch: %v)\n", config.ModulesDir, config.WatchModules)
	if config.HistoryFile != "" {
		fmt.Printf("History:       %s (limit %d)\n", config.HistoryFile, config.HistoryLimit)
	} else {
		fmt.Printf("History:       disabled\n")
	}
	fmt.Printf("Stdio:         %v\n", config.Stdio)
	if len(config.Backend) > 0 {
		fmt.Printf("Backend:       %s\n", strings.Join(config.Backend, " "))
	} else {
		fmt.Printf("Backend:       none\n")
	}
	fmt.Println()
}
