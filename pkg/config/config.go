package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
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

// DSN renders a postgres:// URL for lib/pq. Every part is escaped, so empty
// values or values with spaces and quotes keep their meaning.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.DBName,
	}
	switch {
	case d.Password != "":
		u.User = url.UserPassword(d.User, d.Password)
	case d.User != "":
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// Transports for the change feed.
const (
	TransportPostgres = "postgres"
	TransportRedis    = "redis"
	TransportMemory   = "memory"
)

type FeedConfig struct {
	Transport    string        `mapstructure:"transport"`
	MinReconnect time.Duration `mapstructure:"min_reconnect"`
	MaxReconnect time.Duration `mapstructure:"max_reconnect"`
	Buffer       int           `mapstructure:"buffer"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	Timeout int    `mapstructure:"timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	db := DatabaseConfig{
		Host:    u.Hostname(),
		Port:    5432,
		DBName:  strings.TrimPrefix(u.Path, "/"),
		SSLMode: u.Query().Get("sslmode"),
	}
	if u.User != nil {
		db.User = u.User.Username()
		db.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		if db.Port, err = strconv.Atoi(p); err != nil {
			return DatabaseConfig{}, fmt.Errorf("port %q: %w", p, err)
		}
	}
	if db.SSLMode == "" {
		db.SSLMode = "disable"
	}
	return db, nil
}

// LoadConfig reads path if given, then applies NOTESYNC_* environment
// overrides and the bare DATABASE_URL, REDIS_URL and TELEGRAM_TOKEN.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "notesync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("feed.transport", TransportPostgres)
	v.SetDefault("feed.min_reconnect", 10*time.Second)
	v.SetDefault("feed.max_reconnect", time.Minute)
	v.SetDefault("feed.buffer", 256)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.timeout", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix("notesync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	env := viper.New()
	env.AutomaticEnv()

	if dbURL := env.GetString("DATABASE_URL"); dbURL != "" {
		db, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		db.UseInMemory = config.Database.UseInMemory
		config.Database = db
	}

	if redisURL := env.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if token := env.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Feed.Transport {
	case TransportPostgres, TransportRedis, TransportMemory:
	default:
		return fmt.Errorf("unknown feed transport %q", c.Feed.Transport)
	}
	if c.Feed.Transport == TransportRedis && c.Redis.URL == "" {
		return errors.New("feed transport redis requires redis.url")
	}
	if c.Database.UseInMemory && c.Feed.Transport == TransportPostgres {
		// An in-memory store has no trigger to listen to.
		c.Feed.Transport = TransportMemory
	}
	if !c.Database.UseInMemory && c.Feed.Transport == TransportMemory {
		return errors.New("feed transport memory requires database.use_in_memory")
	}
	if c.Feed.MinReconnect <= 0 || c.Feed.MaxReconnect < c.Feed.MinReconnect {
		return fmt.Errorf("invalid feed reconnect interval %s..%s", c.Feed.MinReconnect, c.Feed.MaxReconnect)
	}
	return nil
}
