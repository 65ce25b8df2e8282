package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	UploadLocal  = "local"
	UploadRemote = "remote"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Backend    BackendConfig      `yaml:"backend"`
	Redis      RedisConfig        `yaml:"redis"`
	Poll       PollConfig         `yaml:"poll"`
	Live       PipelineConfig     `yaml:"live"`
	Viz        PipelineConfig     `yaml:"viz"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Upload     UploadConfig       `yaml:"upload"`
	Stream     StreamConfig       `yaml:"stream"`
	Log        LogConfig          `yaml:"log"`
	Timezone   string             `yaml:"timezone"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig: пустой addr - хранилище в памяти
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	DatasetTTL time.Duration `yaml:"dataset_ttl"`
}

type PollConfig struct {
	Interval      int           `yaml:"interval"` // секунды, 1..3600
	SyncInterval  time.Duration `yaml:"sync_interval"`
	TrackerPoints int           `yaml:"tracker_points"`
	SummaryRows   int           `yaml:"summary_rows"`
}

type PipelineConfig struct {
	TimeRange   string `yaml:"time_range"`
	Interval    int    `yaml:"interval"`
	ChartType   string `yaml:"chart_type"`
	ShowTrend   bool   `yaml:"show_trend"`
	ShowAverage bool   `yaml:"show_average"`
}

type UploadConfig struct {
	Mode    string `yaml:"mode"`
	MaxSize int64  `yaml:"max_size"`
}

type StreamConfig struct {
	MaxClients int `yaml:"max_clients"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	s := models.DefaultSettings()
	pipeline := PipelineConfig{
		TimeRange: string(s.TimeRange),
		Interval:  s.Interval,
		ChartType: string(s.ChartType),
	}

	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DatasetTTL: 24 * time.Hour,
		},
		Poll: PollConfig{
			Interval:      30,
			SyncInterval:  30 * time.Second,
			TrackerPoints: 20,
			SummaryRows:   10,
		},
		Live:   pipeline,
		Viz:    pipeline,
		Upload: UploadConfig{Mode: UploadLocal, MaxSize: 32 << 20},
		Stream: StreamConfig{MaxClients: 100},
		Log:    LogConfig{Level: "info"},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load читает .env (если есть), YAML по CONFIG_PATH и переменные окружения.
// Отсутствующий файл конфигурации не ошибка.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFile(getEnv("CONFIG_PATH", "config.yaml"))
}

func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Backend.BaseURL = getEnv("BACKEND_URL", c.Backend.BaseURL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Upload.Mode = getEnv("UPLOAD_MODE", c.Upload.Mode)
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server.port is empty", ErrInvalidConfig)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("%w: backend.base_url is empty", ErrInvalidConfig)
	}
	if c.Poll.Interval < 1 || c.Poll.Interval > 3600 {
		return fmt.Errorf("%w: poll.interval must be between 1 and 3600, got %d", ErrInvalidConfig, c.Poll.Interval)
	}
	if c.Poll.SyncInterval <= 0 {
		return fmt.Errorf("%w: poll.sync_interval must be positive", ErrInvalidConfig)
	}
	if _, err := c.Live.Settings(); err != nil {
		return fmt.Errorf("%w: live: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Viz.Settings(); err != nil {
		return fmt.Errorf("%w: viz: %w", ErrInvalidConfig, err)
	}
	if c.Upload.Mode != UploadLocal && c.Upload.Mode != UploadRemote {
		return fmt.Errorf("%w: upload.mode must be %q or %q", ErrInvalidConfig, UploadLocal, UploadRemote)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (p PipelineConfig) Settings() (models.Settings, error) {
	s := models.Settings{
		TimeRange:   models.TimeRange(p.TimeRange),
		Interval:    p.Interval,
		ChartType:   models.ChartType(p.ChartType),
		ShowTrend:   p.ShowTrend,
		ShowAverage: p.ShowAverage,
	}
	return s, s.Validate()
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
