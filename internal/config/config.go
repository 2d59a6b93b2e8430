package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	// Capture is the client side of the capture provider contract.
	Capture struct {
		Endpoint    string        `mapstructure:"endpoint"`
		APIKey      string        `mapstructure:"api_key"`
		Timeout     time.Duration `mapstructure:"timeout"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
		BatchSize   int           `mapstructure:"batch_size"`
	} `mapstructure:"capture"`

	// Screenshot is the third-party renderer the capture endpoint proxies to.
	Screenshot struct {
		Endpoint           string        `mapstructure:"endpoint"`
		AccessKey          string        `mapstructure:"access_key"`
		ViewportWidth      int           `mapstructure:"viewport_width"`
		ViewportHeight     int           `mapstructure:"viewport_height"`
		Format             string        `mapstructure:"format"`
		DelaySeconds       int           `mapstructure:"delay_seconds"`
		BlockAds           bool          `mapstructure:"block_ads"`
		BlockCookieBanners bool          `mapstructure:"block_cookie_banners"`
		WaitFor            string        `mapstructure:"wait_for"`
		Timeout            time.Duration `mapstructure:"timeout"`
	} `mapstructure:"screenshot"`

	Storage struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		RetryDelay  time.Duration `mapstructure:"retry_delay"`
	} `mapstructure:"storage"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
}

// Load reads configs/application.yaml (or path, when given) and applies APP_ env overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
	}
	if err := v.ReadInConfig(); err != nil && path != "" {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	} // optional without an explicit path; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)
	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv overrides work without a config file.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.log_format",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password",
		"postgres.db_name", "postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"capture.endpoint", "capture.api_key", "capture.timeout", "capture.max_attempts",
		"capture.retry_delay", "capture.batch_size",
		"screenshot.endpoint", "screenshot.access_key", "screenshot.viewport_width",
		"screenshot.viewport_height", "screenshot.format", "screenshot.delay_seconds",
		"screenshot.block_ads", "screenshot.block_cookie_banners", "screenshot.wait_for", "screenshot.timeout",
		"storage.max_attempts", "storage.retry_delay",
		"redis.addr", "redis.password", "redis.db",
		"kafka.brokers", "kafka.topic",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
	if c.Listener.Channel == "" {
		c.Listener.Channel = "catalog_changed"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}

	if c.Capture.Endpoint == "" {
		c.Capture.Endpoint = "http://localhost:8080/v1/capture"
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 60 * time.Second
	}
	if c.Capture.MaxAttempts <= 0 {
		c.Capture.MaxAttempts = 3
	}
	if c.Capture.RetryDelay <= 0 {
		c.Capture.RetryDelay = time.Second
	}
	if c.Capture.BatchSize <= 0 {
		c.Capture.BatchSize = 3
	}

	if c.Screenshot.Endpoint == "" {
		c.Screenshot.Endpoint = "https://api.screenshotone.com/take"
	}
	if c.Screenshot.ViewportWidth <= 0 {
		c.Screenshot.ViewportWidth = 1440
	}
	if c.Screenshot.ViewportHeight <= 0 {
		c.Screenshot.ViewportHeight = 900
	}
	if c.Screenshot.Format == "" {
		c.Screenshot.Format = "jpeg"
	}
	if c.Screenshot.DelaySeconds <= 0 {
		c.Screenshot.DelaySeconds = 10
	}
	if c.Screenshot.WaitFor == "" {
		c.Screenshot.WaitFor = `.modal,.popup,div[class*="popup"],div[class*="modal"]`
	}
	if c.Screenshot.Timeout <= 0 {
		c.Screenshot.Timeout = 30 * time.Second
	}

	if c.Storage.MaxAttempts <= 0 {
		c.Storage.MaxAttempts = 3
	}
	if c.Storage.RetryDelay <= 0 {
		c.Storage.RetryDelay = 2 * time.Second
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "catalog.captures"
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }
