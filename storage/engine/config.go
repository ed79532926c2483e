package engine

import (
	"encoding/json"
	"os"

	"github.com/andrewlidong/keystonelight/logger"
)

const (
	defaultRootDirectory    = "."
	defaultCompactThreshold = 1 << 20

	logFileName = "keystonelight.log"
	pidFileName = "keystonelight.pid"
)

type Config struct {
	RootDirectory    string `json:"root_directory"`
	CompactThreshold int64  `json:"compact_threshold"`
	SyncWrite        bool   `json:"sync_write"`

	Logger *logger.Logger `json:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		RootDirectory:    defaultRootDirectory,
		CompactThreshold: defaultCompactThreshold,
		SyncWrite:        true,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type Option func(config *Config)

func WithRootDirectory(dir string) Option {
	return func(config *Config) {
		config.RootDirectory = dir
	}
}

func WithCompactThreshold(bytes int64) Option {
	return func(config *Config) {
		config.CompactThreshold = bytes
	}
}

func WithSyncWrite(sync bool) Option {
	return func(config *Config) {
		config.SyncWrite = sync
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(config *Config) {
		config.Logger = log
	}
}
