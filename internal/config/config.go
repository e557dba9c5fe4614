package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/crossarb/crossarb/internal/fees"
)

// Config is the full engine configuration: a YAML file for structured values
// (fee schedules, thresholds) with env-var overrides for deploy-time knobs.
type Config struct {
	Engine  EngineConfig           `yaml:"engine"`
	Storage StorageConfig          `yaml:"storage"`
	Redis   RedisConfig            `yaml:"redis"`
	Kafka   KafkaConfig            `yaml:"kafka"`
	LLM     LLMConfig              `yaml:"llm"`
	Venues  map[string]VenueConfig `yaml:"venues"`
}

type EngineConfig struct {
	IntervalSeconds     int     `yaml:"interval_seconds"`
	MinSize             float64 `yaml:"min_size"`
	MaxSize             float64 `yaml:"max_size"`
	GridSamples         int     `yaml:"grid_samples"`
	RefineIters         int     `yaml:"refine_iters"`
	MinProfitUSD        float64 `yaml:"min_profit_usd"`
	MinProfitPct        float64 `yaml:"min_profit_pct"`
	PendingTimeoutHours float64 `yaml:"pending_timeout_hours"`
	FetchWorkers        int     `yaml:"fetch_workers"`
	HealthAddr          string  `yaml:"health_addr"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	StateTTLHours  int    `yaml:"state_ttl_hours"`
	CommandChannel string `yaml:"command_channel"`
}

type KafkaConfig struct {
	Brokers      string `yaml:"brokers"`
	AlertTopic   string `yaml:"alert_topic"`
	RequestTopic string `yaml:"request_topic"`
	ErrorTopic   string `yaml:"error_topic"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

type VenueConfig struct {
	Fee     fees.Spec `yaml:"fee"`
	BaseURL string    `yaml:"base_url"`
	BookURL string    `yaml:"book_url"`
}

// Load reads the YAML file at path (optional: empty path skips the file),
// applies .env / environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// ScanInterval is the detection-cycle period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// PendingTimeout is how long a PENDING match may wait for a verdict.
func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.Engine.PendingTimeoutHours * float64(time.Hour))
}

func applyEnvOverrides(cfg *Config) {
	cfg.Storage.Path = EnvString("SQLITE_PATH", cfg.Storage.Path)
	cfg.Redis.Addr = EnvString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = EnvString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Kafka.Brokers = EnvString("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.LLM.APIKey = EnvString("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = EnvString("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = EnvString("LLM_MODEL", cfg.LLM.Model)
	cfg.Engine.IntervalSeconds = EnvInt("SCAN_INTERVAL", cfg.Engine.IntervalSeconds)
	cfg.Engine.MinProfitUSD = EnvFloat("MIN_PROFIT_USD", cfg.Engine.MinProfitUSD)
	cfg.Engine.MinProfitPct = EnvFloat("MIN_PROFIT_PCT", cfg.Engine.MinProfitPct)
	cfg.Engine.MaxSize = EnvFloat("MAX_POSITION_SIZE", cfg.Engine.MaxSize)
}

func setDefaults(cfg *Config) {
	if cfg.Engine.IntervalSeconds <= 0 {
		cfg.Engine.IntervalSeconds = 900
	}
	if cfg.Engine.MinSize <= 0 {
		cfg.Engine.MinSize = 1
	}
	if cfg.Engine.MaxSize <= 0 {
		cfg.Engine.MaxSize = 1000
	}
	if cfg.Engine.GridSamples <= 0 {
		cfg.Engine.GridSamples = 50
	}
	if cfg.Engine.RefineIters <= 0 {
		cfg.Engine.RefineIters = 24
	}
	if cfg.Engine.MinProfitPct <= 0 {
		cfg.Engine.MinProfitPct = 1.0
	}
	if cfg.Engine.PendingTimeoutHours <= 0 {
		cfg.Engine.PendingTimeoutHours = 24
	}
	if cfg.Engine.FetchWorkers <= 0 {
		cfg.Engine.FetchWorkers = 4
	}
	if cfg.Engine.HealthAddr == "" {
		cfg.Engine.HealthAddr = ":8090"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/crossarb.db"
	}
	if cfg.Redis.StateTTLHours <= 0 {
		cfg.Redis.StateTTLHours = 240
	}
	if cfg.Redis.CommandChannel == "" {
		cfg.Redis.CommandChannel = "crossarb.commands"
	}
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = "kafka-broker:9092"
	}
	if cfg.Kafka.AlertTopic == "" {
		cfg.Kafka.AlertTopic = "crossarb.alerts"
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = "crossarb.verification"
	}
	if cfg.Kafka.ErrorTopic == "" {
		cfg.Kafka.ErrorTopic = "crossarb.errors"
	}
	if cfg.Venues == nil {
		cfg.Venues = map[string]VenueConfig{
			"kalshi":     {Fee: fees.Spec{Type: "quadratic", Rate: 0.07}},
			"polymarket": {Fee: fees.Spec{Type: "flat"}},
		}
	}
}

// Schedules builds the per-venue fee schedules from the loaded specs.
func (c *Config) Schedules() (map[string]fees.Schedule, error) {
	out := make(map[string]fees.Schedule, len(c.Venues))
	for venue, vc := range c.Venues {
		sched, err := fees.Build(venue, vc.Fee)
		if err != nil {
			return nil, err
		}
		out[venue] = sched
	}
	return out, nil
}
