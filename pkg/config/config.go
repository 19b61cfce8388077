package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Review     ReviewConfig     `mapstructure:"review"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type ModerationConfig struct {
	// ScamThreshold is the minimum confidence at which a SCAM verdict
	// triggers enforcement. A verdict exactly at the threshold counts.
	ScamThreshold  float64       `mapstructure:"scam_threshold"`
	WarnAfter      int           `mapstructure:"warn_after"`
	MuteAfter      int           `mapstructure:"mute_after"`
	BanAfter       int           `mapstructure:"ban_after"`
	MuteDuration   time.Duration `mapstructure:"mute_duration"`
	ExemptCacheTTL time.Duration `mapstructure:"exempt_cache_ttl"`
}

type ReviewConfig struct {
	// Window is how long a pending record stays open for admin feedback
	// before the sweeper closes it as unreviewed.
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AdminConfig struct {
	// ChatIDs are the global admin chats. They receive review cards from
	// every moderated chat, in addition to any per-chat linked admin chat.
	ChatIDs []int64 `mapstructure:"chat_ids"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
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

func parseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.update_timeout", 60)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "antiscam")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 256)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.timeout", 20*time.Second)
	v.SetDefault("openai.requests_per_second", 5.0)
	v.SetDefault("openai.burst", 10)

	v.SetDefault("moderation.scam_threshold", 0.85)
	v.SetDefault("moderation.warn_after", 1)
	v.SetDefault("moderation.mute_after", 2)
	v.SetDefault("moderation.ban_after", 3)
	v.SetDefault("moderation.mute_duration", 24*time.Hour)
	v.SetDefault("moderation.exempt_cache_ttl", 5*time.Minute)

	v.SetDefault("review.window", 72*time.Hour)
	v.SetDefault("review.sweep_interval", 10*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if raw := v.GetString("GLOBAL_ADMIN_CHAT_IDS"); raw != "" {
		ids, err := parseChatIDs(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GLOBAL_ADMIN_CHAT_IDS: %v", err)
		}
		config.Admin.ChatIDs = ids
	}

	if v.IsSet("SCAM_THRESHOLD") {
		config.Moderation.ScamThreshold = v.GetFloat64("SCAM_THRESHOLD")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Moderation.ScamThreshold < 0 || c.Moderation.ScamThreshold > 1 {
		return fmt.Errorf("moderation.scam_threshold must be in [0, 1], got %v", c.Moderation.ScamThreshold)
	}
	if c.Moderation.WarnAfter < 1 {
		return fmt.Errorf("moderation.warn_after must be at least 1, got %d", c.Moderation.WarnAfter)
	}
	if c.Moderation.WarnAfter > c.Moderation.MuteAfter || c.Moderation.MuteAfter > c.Moderation.BanAfter {
		return fmt.Errorf("moderation tiers must be ordered warn <= mute <= ban, got %d/%d/%d",
			c.Moderation.WarnAfter, c.Moderation.MuteAfter, c.Moderation.BanAfter)
	}
	if c.Moderation.MuteDuration <= 0 {
		return fmt.Errorf("moderation.mute_duration must be positive, got %v", c.Moderation.MuteDuration)
	}
	if c.Review.Window <= 0 {
		return fmt.Errorf("review.window must be positive, got %v", c.Review.Window)
	}
	return nil
}

// Watch re-reads the file on every change and delivers the parsed result
// to fn. Invalid edits are delivered as errors so the caller can keep the
// previous configuration.
func Watch(path string, fn func(*Config, error)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		fn(LoadConfig(path))
	})
	v.WatchConfig()
	return nil
}
