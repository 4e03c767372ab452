// Package config loads service settings from config.yaml, LEAFSCAN_* env
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/leafscan/internal/imaging"
	"github.com/example/leafscan/internal/pipeline"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New loads .env (if any), then config.yaml from the usual locations.
func New() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/leafscan/")
	v.AddConfigPath("$HOME/.leafscan")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	prepare(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return &Config{v: v}, nil
}

// NewFromFile reads an explicit config file.
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	prepare(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return &Config{v: v}, nil
}

// NewDefault returns a configuration with defaults and env overrides only.
func NewDefault() *Config {
	v := viper.New()
	prepare(v)
	return &Config{v: v}
}

func prepare(v *viper.Viper) {
	setDefaults(v)
	v.SetEnvPrefix("LEAFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.gin_mode", "release")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=leafscan port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("cache.type", "redis")
	v.SetDefault("cache.redis_addr", "redis:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.cleanup_interval", "1m")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "dev-secret")
	v.SetDefault("auth.audience", "")

	v.SetDefault("models.backend", "onnx")
	v.SetDefault("models.runtime_library", "")
	v.SetDefault("models.region", "")
	v.SetDefault("models.disease.path", "models/disease.onnx")
	v.SetDefault("models.disease.metadata", "models/disease.json")
	v.SetDefault("models.disease.source", "")
	v.SetDefault("models.general.path", "models/general.onnx")
	v.SetDefault("models.general.metadata", "models/general.json")
	v.SetDefault("models.general.source", "")
	v.SetDefault("models.remote.disease_addr", "model-service:50051")
	v.SetDefault("models.remote.general_addr", "")
	v.SetDefault("models.remote.timeout", "10s")

	v.SetDefault("pipeline.dark_threshold", 15)
	v.SetDefault("pipeline.dark_ratio", 0.98)
	v.SetDefault("pipeline.green.hue_min", 25)
	v.SetDefault("pipeline.green.hue_max", 100)
	v.SetDefault("pipeline.green.sat_min", 30)
	v.SetDefault("pipeline.green.sat_max", 255)
	v.SetDefault("pipeline.green.val_min", 10)
	v.SetDefault("pipeline.green.val_max", 255)
	v.SetDefault("pipeline.green_percent", 20.0)
	v.SetDefault("pipeline.plant_categories", []int{})
	v.SetDefault("pipeline.confidence_floor", pipeline.DefaultConfidenceFloor)
	v.SetDefault("pipeline.input_size", 224)
	v.SetDefault("pipeline.max_pixels", imaging.DefaultMaxPixels)
	v.SetDefault("pipeline.labels", pipeline.DefaultLabels)

	v.SetDefault("model_server.addr", ":50051")
	v.SetDefault("model_server.model", "disease")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.poll_timeout", 60)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	GinMode         string
}

func (c *Config) Server() ServerConfig {
	return ServerConfig{
		Addr:            c.v.GetString("server.addr"),
		ShutdownTimeout: c.v.GetDuration("server.shutdown_timeout"),
		MaxUploadBytes:  c.v.GetInt64("server.max_upload_bytes"),
		GinMode:         c.v.GetString("server.gin_mode"),
	}
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string
	Format string
}

func (c *Config) Logging() LoggingConfig {
	return LoggingConfig{
		Level:  c.v.GetString("logging.level"),
		Format: c.v.GetString("logging.format"),
	}
}

// DatabaseConfig selects the gorm driver and pool settings.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) Database() DatabaseConfig {
	return DatabaseConfig{
		Driver:          c.v.GetString("database.driver"),
		DSN:             c.v.GetString("database.dsn"),
		MaxIdleConns:    c.v.GetInt("database.max_idle_conns"),
		MaxOpenConns:    c.v.GetInt("database.max_open_conns"),
		ConnMaxLifetime: c.v.GetDuration("database.conn_max_lifetime"),
	}
}

// CacheConfig selects the cache backend: redis, memory or none.
type CacheConfig struct {
	Type            string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (c *Config) Cache() CacheConfig {
	return CacheConfig{
		Type:            strings.ToLower(c.v.GetString("cache.type")),
		RedisAddr:       c.v.GetString("cache.redis_addr"),
		RedisPassword:   c.v.GetString("cache.redis_password"),
		RedisDB:         c.v.GetInt("cache.redis_db"),
		TTL:             c.v.GetDuration("cache.ttl"),
		CleanupInterval: c.v.GetDuration("cache.cleanup_interval"),
	}
}

// AuthConfig configures JWT validation.
type AuthConfig struct {
	Enabled  bool
	Secret   string
	Audience string
}

func (c *Config) Auth() AuthConfig {
	return AuthConfig{
		Enabled:  c.v.GetBool("auth.enabled"),
		Secret:   c.v.GetString("auth.secret"),
		Audience: c.v.GetString("auth.audience"),
	}
}

// ModelFile locates one ONNX model and where to fetch it from.
type ModelFile struct {
	Path     string
	Metadata string
	Source   string
}

// ModelsConfig selects the inference backend.
type ModelsConfig struct {
	Backend           string
	RuntimeLibrary    string
	Region            string
	Disease           ModelFile
	General           ModelFile
	RemoteDiseaseAddr string
	RemoteGeneralAddr string
	RemoteTimeout     time.Duration
}

func (c *Config) Models() ModelsConfig {
	file := func(prefix string) ModelFile {
		return ModelFile{
			Path:     c.v.GetString(prefix + ".path"),
			Metadata: c.v.GetString(prefix + ".metadata"),
			Source:   c.v.GetString(prefix + ".source"),
		}
	}
	return ModelsConfig{
		Backend:           strings.ToLower(c.v.GetString("models.backend")),
		RuntimeLibrary:    c.v.GetString("models.runtime_library"),
		Region:            c.v.GetString("models.region"),
		Disease:           file("models.disease"),
		General:           file("models.general"),
		RemoteDiseaseAddr: c.v.GetString("models.remote.disease_addr"),
		RemoteGeneralAddr: c.v.GetString("models.remote.general_addr"),
		RemoteTimeout:     c.v.GetDuration("models.remote.timeout"),
	}
}

// Pipeline returns the acceptance thresholds. Preprocessor sizes follow
// pipeline.input_size; model metadata may override them later.
func (c *Config) Pipeline() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	threshold := c.v.GetInt("pipeline.dark_threshold")
	if threshold < 0 || threshold > 255 {
		return cfg, fmt.Errorf("pipeline.dark_threshold %d out of 0..255", threshold)
	}
	cfg.DarkThreshold = uint8(threshold)
	cfg.DarkRatio = c.v.GetFloat64("pipeline.dark_ratio")

	band, err := c.greenBand()
	if err != nil {
		return cfg, err
	}
	cfg.GreenBand = band
	cfg.GreenPercent = c.v.GetFloat64("pipeline.green_percent")
	cfg.PlantCategories = c.v.GetIntSlice("pipeline.plant_categories")
	cfg.ConfidenceFloor = c.v.GetFloat64("pipeline.confidence_floor")
	cfg.MaxPixels = c.v.GetInt("pipeline.max_pixels")

	if labels := c.v.GetStringSlice("pipeline.labels"); len(labels) > 0 {
		cfg.Labels = labels
	}

	size := c.v.GetInt("pipeline.input_size")
	if size <= 0 {
		return cfg, fmt.Errorf("pipeline.input_size must be positive, got %d", size)
	}
	cfg.GeneralInput.Size = size
	cfg.DiseaseInput.Size = size
	return cfg, nil
}

func (c *Config) greenBand() (imaging.HSVRange, error) {
	keys := []string{"hue_min", "hue_max", "sat_min", "sat_max", "val_min", "val_max"}
	vals := make([]uint8, len(keys))
	for i, k := range keys {
		n := c.v.GetInt("pipeline.green." + k)
		if n < 0 || n > 255 {
			return imaging.HSVRange{}, fmt.Errorf("pipeline.green.%s %d out of 0..255", k, n)
		}
		vals[i] = uint8(n)
	}
	return imaging.HSVRange{
		HueMin: vals[0], HueMax: vals[1],
		SatMin: vals[2], SatMax: vals[3],
		ValMin: vals[4], ValMax: vals[5],
	}, nil
}

// ModelServerConfig configures the gRPC model sidecar.
type ModelServerConfig struct {
	Addr string
	// Model is "disease" or "general".
	Model string
}

func (c *Config) ModelServer() ModelServerConfig {
	return ModelServerConfig{
		Addr:  c.v.GetString("model_server.addr"),
		Model: strings.ToLower(c.v.GetString("model_server.model")),
	}
}

// TelegramConfig configures the bot front end.
type TelegramConfig struct {
	Token       string
	Debug       bool
	PollTimeout int
}

func (c *Config) Telegram() TelegramConfig {
	return TelegramConfig{
		Token:       c.v.GetString("telegram.token"),
		Debug:       c.v.GetBool("telegram.debug"),
		PollTimeout: c.v.GetInt("telegram.poll_timeout"),
	}
}
