package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xaenox/creator-crew/internal/models"
)

type Config struct {
	Telegram TelegramConfig     `mapstructure:"telegram"`
	Database DatabaseConfig     `mapstructure:"database"`
	OpenAI   OpenAIConfig       `mapstructure:"openai"`
	Agent    AgentConfig        `mapstructure:"agent"`
	Models   []models.ModelTier `mapstructure:"models"`
	YouTube  YouTubeConfig      `mapstructure:"youtube"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type AgentConfig struct {
	MaxToolRounds      int           `mapstructure:"max_tool_rounds"`
	RoundTimeout       time.Duration `mapstructure:"round_timeout"`
	DefaultTemperature float64       `mapstructure:"default_temperature"`
}

type YouTubeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

var defaultModels = []map[string]any{
	{"id": "gpt-4o-mini", "label": "Standard", "plan": "free"},
	{"id": "gpt-4o", "label": "Advanced", "plan": "pro"},
	{"id": "o3-mini", "label": "Reasoning", "plan": "business"},
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path (optional when empty) and the environment. A .env file
// in the working directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "./data/creator-crew.db")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("agent.max_tool_rounds", 8)
	v.SetDefault("agent.round_timeout", "60s")
	v.SetDefault("agent.default_temperature", 0.7)
	v.SetDefault("models", defaultModels)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
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
	if apiKey := v.GetString("YOUTUBE_API_KEY"); apiKey != "" {
		config.YouTube.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Validate checks the fields every command needs. Front-end credentials are
// checked by the commands that use them.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not one of memory, postgres, sqlite", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return errors.New("database.sqlite_path is required for the sqlite driver")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return errors.New("agent.max_tool_rounds must be > 0")
	}
	if c.Agent.RoundTimeout <= 0 {
		return errors.New("agent.round_timeout must be > 0")
	}
	if c.Agent.DefaultTemperature < 0 || c.Agent.DefaultTemperature > 1 {
		return errors.New("agent.default_temperature must be between 0 and 1")
	}
	if len(c.Models) == 0 {
		return errors.New("at least one model tier is required")
	}
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d].id is required", i)
		}
		if m.Plan != "" && !m.Plan.Valid() {
			return fmt.Errorf("models[%d].plan %q is not a known plan", i, m.Plan)
		}
	}
	return nil
}
