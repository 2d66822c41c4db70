package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Automation AutomationConfig `mapstructure:"automation"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	MDNS       MDNSConfig       `mapstructure:"mdns"`
}

type AppConfig struct {
	Port      int    `mapstructure:"port"`
	StationID string `mapstructure:"station_id"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	ApplySchema bool   `mapstructure:"apply_schema"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
	// StreamMaxLen caps the per-device state stream; 0 disables the stream.
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnect   time.Duration `mapstructure:"max_reconnect"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RealtimeConfig struct {
	Path           string        `mapstructure:"path"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// Automation dispatch modes.
const (
	DispatcherInline = "inline"
	DispatcherQueue  = "queue"
)

// TelemetryConfig sizes the ordered ingest queue: Workers shards, each
// holding up to Buffer pending messages.
type TelemetryConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

type AutomationConfig struct {
	// Dispatcher is "inline" (detached goroutine) or "queue" (asynq).
	Dispatcher       string `mapstructure:"dispatcher"`
	QueueConcurrency int    `mapstructure:"queue_concurrency"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type MDNSConfig struct {
	LocalName string `mapstructure:"local_name"`
}

// Enabled reports whether a time-series sink is configured.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

var defaults = map[string]any{
	"app.port":                     5069,
	"app.station_id":               "",
	"app.log_level":                "info",
	"app.log_format":               "json",
	"database.url":                 "",
	"database.apply_schema":        true,
	"redis.addr":                   "localhost:6379",
	"redis.state_ttl":              time.Hour,
	"redis.stream_max_len":         int64(100),
	"mqtt.broker":                  "tcp://localhost:1883",
	"mqtt.client_id":               "homehub-backend",
	"mqtt.username":                "",
	"mqtt.password":                "",
	"mqtt.reconnect_delay":         5 * time.Second,
	"mqtt.max_reconnect":           time.Minute,
	"mqtt.connect_timeout":         10 * time.Second,
	"jwt.secret":                   "",
	"realtime.path":                "/ws",
	"realtime.sweep_interval":      30 * time.Second,
	"realtime.send_buffer":         256,
	"realtime.max_message_size":    int64(4096),
	"telemetry.workers":            8,
	"telemetry.buffer":             256,
	"automation.dispatcher":        DispatcherInline,
	"automation.queue_concurrency": 10,
	"influx.url":                   "",
	"influx.token":                 "",
	"influx.org":                   "",
	"influx.bucket":                "",
	"mdns.local_name":              "",
}

// Flat environment names carried over from earlier deployments.
var legacyEnv = map[string]string{
	"database.url":   "DB_URL",
	"redis.addr":     "REDIS_ADDR",
	"mqtt.broker":    "MQTT_BROKER",
	"mqtt.client_id": "MQTT_CLIENT_ID",
	"mqtt.username":  "MQTT_USER",
	"mqtt.password":  "MQTT_PASSWORD",
	"jwt.secret":     "JWT_SECRET",
	"app.log_level":  "LOG_LEVEL",
	"app.port":       "PORT",
}

// LoadConfig reads configuration from file, .env, or env vars.
// args are command line arguments without the program name.
func LoadConfig(args []string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("homehub", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a config file (yaml)")
	stationID := flags.String("station", "", "station id to subscribe to")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if *stationID != "" {
		cfg.App.StationID = *stationID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the keys the process cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "database.url")
	}
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if c.App.StationID == "" {
		missing = append(missing, "app.station_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}

	switch c.Automation.Dispatcher {
	case DispatcherInline, DispatcherQueue:
	default:
		return fmt.Errorf("config: automation.dispatcher must be inline or queue, got %q", c.Automation.Dispatcher)
	}
	if c.Realtime.SweepInterval <= 0 {
		return errors.New("config: realtime.sweep_interval must be positive")
	}
	return nil
}
