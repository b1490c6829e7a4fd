package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/openmined/syftxfer/internal/endpoint/s3"
	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/openmined/syftxfer/internal/utils"
)

const (
	ProtocolS3     = "s3"
	ProtocolFile   = "file"
	ProtocolMemory = "memory"
)

const (
	DefaultConcurrency = 8
	DefaultProtocol    = ProtocolS3
	historyFileName    = "history.db"
	logFileName        = "syftxfer.log"
	locksDir           = "locks"
)

var (
	home, _           = os.UserHomeDir()
	DefaultDataDir    = filepath.Join(home, ".syftxfer")
	DefaultConfigPath = filepath.Join(DefaultDataDir, "config.json")
)

var protocols = []string{ProtocolS3, ProtocolFile, ProtocolMemory}

type Config struct {
	// LocalPath is the local root every transfer is relative to
	LocalPath string `json:"local_path" mapstructure:"local_path"`

	// RemotePath is the remote root: a directory for "file", a key prefix
	// under s3.prefix for "s3"
	RemotePath string `json:"remote_path,omitempty" mapstructure:"remote_path"`

	Protocol    string     `json:"protocol" mapstructure:"protocol"`
	Concurrency int        `json:"concurrency,omitempty" mapstructure:"concurrency"`
	Ignore      []string   `json:"ignore,omitempty" mapstructure:"ignore"`
	IgnoreFile  string     `json:"ignore_file,omitempty" mapstructure:"ignore_file"`
	S3          *s3.Config `json:"s3,omitempty" mapstructure:"s3"`
	DataDir     string     `json:"data_dir,omitempty" mapstructure:"data_dir"`

	Path string `json:"-" mapstructure:"-"`
}

// Validate normalizes paths, fills defaults and checks protocol settings
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &transfer.ConfigurationError{Field: "local_path", Reason: "local path is required"}
	}
	local, err := utils.ResolvePath(c.LocalPath)
	if err != nil {
		return &transfer.ConfigurationError{Field: "local_path", Reason: err.Error()}
	}
	c.LocalPath = local

	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	c.Protocol = strings.ToLower(c.Protocol)

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 0 {
		return &transfer.ConfigurationError{Field: "concurrency", Reason: "must be a positive integer"}
	}

	switch c.Protocol {
	case ProtocolS3:
		if c.S3 == nil {
			return &transfer.ConfigurationError{Field: "s3", Reason: "s3 settings are required for the s3 protocol"}
		}
		if err := c.S3.Validate(); err != nil {
			return err
		}
		c.RemotePath = transfer.CleanPath(c.RemotePath)
	case ProtocolFile:
		if c.RemotePath == "" {
			return &transfer.ConfigurationError{Field: "remote_path", Reason: "remote path is required for the file protocol"}
		}
		remote, err := utils.ResolvePath(c.RemotePath)
		if err != nil {
			return &transfer.ConfigurationError{Field: "remote_path", Reason: err.Error()}
		}
		c.RemotePath = remote
	case ProtocolMemory:
	default:
		return &transfer.ConfigurationError{
			Field:  "protocol",
			Reason: fmt.Sprintf("unknown protocol %q, expected one of %s", c.Protocol, strings.Join(protocols, ", ")),
		}
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return &transfer.ConfigurationError{Field: "data_dir", Reason: err.Error()}
	}
	c.DataDir = dataDir

	if c.IgnoreFile != "" {
		ignoreFile, err := utils.ResolvePath(c.IgnoreFile)
		if err != nil {
			return &transfer.ConfigurationError{Field: "ignore_file", Reason: err.Error()}
		}
		c.IgnoreFile = ignoreFile
	}

	return nil
}

func (c *Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("local_path", c.LocalPath),
		slog.String("remote_path", c.RemotePath),
		slog.String("protocol", c.Protocol),
		slog.Int("concurrency", c.Concurrency),
		slog.String("data_dir", c.DataDir),
	}
	if c.S3 != nil {
		attrs = append(attrs, slog.Any("s3", *c.S3))
	}
	return slog.GroupValue(attrs...)
}

// SupportsMode reports whether the remote side can store permission bits
func (c *Config) SupportsMode() bool {
	return c.Protocol == ProtocolFile
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, historyFileName)
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", logFileName)
}

func (c *Config) LocksDir() string {
	return filepath.Join(c.DataDir, locksDir)
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// credentials may be stored in the file
	return os.WriteFile(path, data, 0o600)
}

// Load reads a config file. The returned config is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

// LoadOrDefault is Load that returns an empty config when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{Path: path}, nil
	}
	return cfg, err
}
