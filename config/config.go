package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultDatasetURL = "https://raw.githubusercontent.com/jbrownlee/Datasets/master/pima-indians-diabetes.data.csv"
	defaultSecretKey  = "your_secret_key_here"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Results  ResultsConfig  `yaml:"results"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	// AdminToken protects the /api/model endpoints when set.
	AdminToken string `yaml:"admin_token"`
	SecretKey  string `yaml:"secret_key"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	UseTempDir bool   `yaml:"use_temp_dir"`
}

type DatasetConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ModelConfig struct {
	Type      string  `yaml:"type"`
	Path      string  `yaml:"path"`
	NumTrees  int     `yaml:"num_trees"`
	MaxDepth  int     `yaml:"max_depth"`
	Seed      int64   `yaml:"seed"`
	TestRatio float64 `yaml:"test_ratio"`
	Watch     bool    `yaml:"watch"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ResultsConfig struct {
	HistorySize int `yaml:"history_size"`
}

// Load reads the YAML file at path. A missing file is not an error: the
// service runs on defaults plus environment overrides.
func Load(path string) (*Config, error) {
	config := &Config{}

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.setDefaults()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 60 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if c.Server.SecretKey == "" {
		c.Server.SecretKey = defaultSecretKey
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}

	// use_temp_dir wins over data_dir.
	switch {
	case c.Storage.UseTempDir:
		c.Storage.DataDir = filepath.Join(os.TempDir(), "diabetesml")
	case c.Storage.DataDir == "":
		c.Storage.DataDir = "data"
	}

	if c.Dataset.URL == "" {
		c.Dataset.URL = DefaultDatasetURL
	}
	if c.Dataset.Timeout == 0 {
		c.Dataset.Timeout = 30 * time.Second
	}

	if c.Model.Type == "" {
		c.Model.Type = "random_forest"
	}
	if c.Model.NumTrees == 0 {
		c.Model.NumTrees = 100
	}
	if c.Model.Seed == 0 {
		c.Model.Seed = 42
	}
	if c.Model.TestRatio == 0 {
		c.Model.TestRatio = 0.2
	}

	if c.Results.HistorySize == 0 {
		c.Results.HistorySize = 100
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.Server.SecretKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("USE_TEMP_DIR"); v != "" {
		useTemp, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid USE_TEMP_DIR %q: %w", v, err)
		}
		c.Storage.UseTempDir = useTemp
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	return nil
}

// ModelPath defaults to model.json inside the data directory.
func (c *Config) ModelPath() string {
	if c.Model.Path != "" {
		return c.Model.Path
	}
	return filepath.Join(c.Storage.DataDir, "model.json")
}

func (c *Config) DatasetPath() string {
	return filepath.Join(c.Storage.DataDir, "online_data.csv")
}

func (c *Config) RealtimeLogPath() string {
	return filepath.Join(c.Storage.DataDir, "real_time_predictions.csv")
}

func (c *Config) BatchOutputPath() string {
	return filepath.Join(c.Storage.DataDir, "batch_predictions.csv")
}

func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Storage.DataDir, "training.db")
}
