package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Monitor  MonitorConfig  `json:"monitor"`
	Node     NodeConfig     `json:"node"`
	Rewards  RewardsConfig  `json:"rewards"`
	Redis    RedisConfig    `json:"redis"`
	GeoIP    GeoIPConfig    `json:"geoip"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Discord  DiscordConfig  `json:"discord"`
	Log      LogConfig      `json:"log"`
	Versions VersionsConfig `json:"version"`
}

type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MonitorConfig drives the crawl cycle.
type MonitorConfig struct {
	SeedNodes              []string `json:"seed_nodes"`
	Interval               int      `json:"interval_seconds"`
	RestartDelay           int      `json:"restart_delay_seconds"`
	CrawlChunkSize         int      `json:"crawl_chunk_size"`
	EnrichChunkSize        int      `json:"enrich_chunk_size"`
	ChunkDelay             int      `json:"chunk_delay_ms"`
	KeepStale              int      `json:"keep_stale_hours"`
	FailureNotifyThreshold int      `json:"failure_notify_threshold"`
}

type NodeConfig struct {
	APIHTTPSPort   int     `json:"api_https_port"`
	APIHTTPPort    int     `json:"api_http_port"`
	PeerPort       int     `json:"peer_port"`
	RequestTimeout int     `json:"request_timeout_ms"`
	TimeoutMargin  float64 `json:"timeout_margin"`
}

type RewardsConfig struct {
	ControllerEndpoint string `json:"controller_endpoint"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
	UseTLS   bool   `json:"use_tls"`
}

type GeoIPConfig struct {
	DBPath           string `json:"db_path"`
	APIRatePerMinute int    `json:"api_rate_per_minute"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
	Enabled  bool   `json:"enabled"`
}

type DiscordConfig struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type VersionsConfig struct {
	MinSupported string `json:"min_supported"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           4001,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Monitor: MonitorConfig{
			SeedNodes:              []string{},
			Interval:               300,
			RestartDelay:           10,
			CrawlChunkSize:         10,
			EnrichChunkSize:        20,
			ChunkDelay:             500,
			KeepStale:              72,
			FailureNotifyThreshold: 3,
		},
		Node: NodeConfig{
			APIHTTPSPort:   3001,
			APIHTTPPort:    3000,
			PeerPort:       7900,
			RequestTimeout: 5000,
			TimeoutMargin:  1.1,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Enabled: false,
		},
		GeoIP: GeoIPConfig{
			APIRatePerMinute: 40,
		},
		MongoDB: MongoDBConfig{
			URI:      "mongodb://localhost:27017",
			Database: "nodewatch",
			Enabled:  true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Versions: VersionsConfig{
			MinSupported: "1.0.3.4",
		},
	}
}

// LoadConfig layers defaults, the JSON config file and environment variables.
// Command-line flags are applied on top by the caller.
func LoadConfig() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := Default()

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config/config.json"
	}
	if err := loadFile(cfg, configPath); err != nil {
		return nil, err
	}

	loadEnv(cfg)

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	// Server
	envInt("PORT", &cfg.Server.Port)
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = splitList(val)
	}

	// Monitor
	if val := os.Getenv("NODES"); val != "" {
		cfg.Monitor.SeedNodes = splitList(val)
	}
	if val := os.Getenv("SEED_NODES"); val != "" {
		cfg.Monitor.SeedNodes = splitList(val)
	}
	envInt("NODE_MONITOR_SCHEDULE_INTERVAL", &cfg.Monitor.Interval)
	envInt("MONITOR_RESTART_DELAY", &cfg.Monitor.RestartDelay)
	envInt("CRAWL_CHUNK_SIZE", &cfg.Monitor.CrawlChunkSize)
	envInt("ENRICH_CHUNK_SIZE", &cfg.Monitor.EnrichChunkSize)
	envInt("CHUNK_DELAY_MS", &cfg.Monitor.ChunkDelay)
	envInt("KEEP_STALE_HOURS", &cfg.Monitor.KeepStale)
	envInt("FAILURE_NOTIFY_THRESHOLD", &cfg.Monitor.FailureNotifyThreshold)

	// Node protocol
	envInt("API_NODE_HTTPS_PORT", &cfg.Node.APIHTTPSPort)
	envInt("API_NODE_PORT", &cfg.Node.APIHTTPPort)
	envInt("PEER_NODE_PORT", &cfg.Node.PeerPort)
	envInt("REQUEST_TIMEOUT", &cfg.Node.RequestTimeout)
	if val := os.Getenv("REQUEST_TIMEOUT_MARGIN"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Node.TimeoutMargin = f
		}
	}

	if val := os.Getenv("CONTROLLER_ENDPOINT"); val != "" {
		cfg.Rewards.ControllerEndpoint = val
	}

	// Redis
	if val := os.Getenv("REDIS_ADDRESS"); val != "" {
		cfg.Redis.Address = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	envInt("REDIS_DB", &cfg.Redis.DB)
	envBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	envBool("REDIS_USE_TLS", &cfg.Redis.UseTLS)

	// GeoIP
	if val := os.Getenv("GEOIP_DB_PATH"); val != "" {
		cfg.GeoIP.DBPath = val
	}
	envInt("GEOIP_API_RATE", &cfg.GeoIP.APIRatePerMinute)

	// MongoDB
	if val := os.Getenv("MONGODB_URI"); val != "" {
		cfg.MongoDB.URI = val
	}
	if val := os.Getenv("MONGODB_ENDPOINT"); val != "" {
		cfg.MongoDB.URI = val
	}
	if val := os.Getenv("MONGODB_DATABASE"); val != "" {
		cfg.MongoDB.Database = val
	}
	envBool("MONGODB_ENABLED", &cfg.MongoDB.Enabled)

	// Discord
	if val := os.Getenv("DISCORD_BOT_TOKEN"); val != "" {
		cfg.Discord.Token = val
	}
	if val := os.Getenv("DISCORD_CHANNEL_ID"); val != "" {
		cfg.Discord.ChannelID = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("MIN_SUPPORTED_VERSION"); val != "" {
		cfg.Versions.MinSupported = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			*dst = p
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the values the monitor cannot run without.
func (c *Config) Validate() error {
	if len(c.Monitor.SeedNodes) == 0 {
		return errors.New("at least one seed node is required")
	}
	if c.Monitor.CrawlChunkSize <= 0 || c.Monitor.EnrichChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	if c.Node.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Node.TimeoutMargin < 1 {
		return fmt.Errorf("timeout margin %.2f must be at least 1", c.Node.TimeoutMargin)
	}
	return nil
}

// Helper methods for duration conversion
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Monitor.Interval) * time.Second
}

func (c *Config) RestartDelayDuration() time.Duration {
	return time.Duration(c.Monitor.RestartDelay) * time.Second
}

func (c *Config) ChunkDelayDuration() time.Duration {
	return time.Duration(c.Monitor.ChunkDelay) * time.Millisecond
}

func (c *Config) KeepStaleDuration() time.Duration {
	return time.Duration(c.Monitor.KeepStale) * time.Hour
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.Node.RequestTimeout) * time.Millisecond
}
