package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Followup    FollowupConfig    `mapstructure:"followup"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	SSLMode        string `mapstructure:"sslmode"`
	UseInMemory    bool   `mapstructure:"use_in_memory"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	AcquireTimeout int    `mapstructure:"acquire_timeout_seconds"`
}

type BufferConfig struct {
	QuietPeriodSeconds int    `mapstructure:"quiet_period_seconds"`
	UseRedis           bool   `mapstructure:"use_redis"`
	RedisURL           string `mapstructure:"redis_url"`
	TTLSeconds         int    `mapstructure:"ttl_seconds"`
}

type AggregationConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	RetentionDays   int `mapstructure:"retention_days"`
}

type FollowupConfig struct {
	IntervalSeconds  int `mapstructure:"interval_seconds"`
	StalenessMinutes int `mapstructure:"staleness_minutes"`
	GuardWindowHours int `mapstructure:"guard_window_hours"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.acquire_timeout_seconds", 10)
	v.SetDefault("buffer.quiet_period_seconds", 5)
	v.SetDefault("buffer.use_redis", false)
	v.SetDefault("buffer.ttl_seconds", 300)
	v.SetDefault("aggregation.interval_minutes", 5)
	v.SetDefault("aggregation.retention_days", 90)
	v.SetDefault("followup.interval_seconds", 60)
	v.SetDefault("followup.staleness_minutes", 60)
	v.SetDefault("followup.guard_window_hours", 24)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)

	// Enable environment variable support
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %v", err)
	}

	// DATABASE_URL takes precedence over the per-field database section
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		dbConfig.MaxOpenConns = config.Database.MaxOpenConns
		dbConfig.MaxIdleConns = config.Database.MaxIdleConns
		dbConfig.AcquireTimeout = config.Database.AcquireTimeout
		config.Database = dbConfig
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Buffer.RedisURL = redisURL
		config.Buffer.UseRedis = true
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
