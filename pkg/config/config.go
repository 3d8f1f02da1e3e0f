package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xaenox/aurora-bot/internal/storage"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Log       LogConfig       `mapstructure:"log"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	SearchLimit   int           `mapstructure:"search_limit"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	MinSimilarity float64       `mapstructure:"min_similarity"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// Enabled reports whether the LLM classifier should be used.
func (c OpenAIConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type AssistantConfig struct {
	Greeting       string        `mapstructure:"greeting"`
	RevealInterval time.Duration `mapstructure:"reveal_interval"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// StorageConfig flattens the database and redis sections into the shape the
// storage package expects.
func (c *Config) StorageConfig() storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Driver:        c.Database.Driver,
		Host:          c.Database.Host,
		Port:          c.Database.Port,
		User:          c.Database.User,
		Password:      c.Database.Password,
		DBName:        c.Database.DBName,
		SSLMode:       c.Database.SSLMode,
		UseInMemory:   c.Database.UseInMemory,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		KeyPrefix:     c.Redis.KeyPrefix,
		HistoryLimit:  c.Redis.HistoryLimit,
	}
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   storage.DriverPostgres,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.stream_timeout", 2*time.Minute)
	v.SetDefault("backend.search_limit", 20)
	v.SetDefault("backend.history_limit", 10)
	v.SetDefault("backend.min_similarity", 0.0)

	v.SetDefault("database.driver", storage.DriverMemory)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "aurora:")
	v.SetDefault("redis.history_limit", 200)

	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.0)

	v.SetDefault("assistant.greeting", "Hi! I'm your shopping assistant. Ask me about products, prices or recommendations.")
	v.SetDefault("assistant.reveal_interval", 300*time.Millisecond)
	v.SetDefault("assistant.health_interval", time.Minute)

	v.SetDefault("log.mode", "production")
}

// LoadConfig reads path (when it exists), a .env file in the working
// directory (when it exists) and the environment, in increasing priority.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if apiURL := v.GetString("AURORA_API_URL"); apiURL != "" {
		config.Backend.BaseURL = apiURL
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.Addr = redisURL
		if config.Database.Driver == storage.DriverMemory {
			config.Database.Driver = storage.DriverRedis
		}
	}

	return &config, nil
}
