package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/homehub")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_STATION_ID", "station-1")
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)
	setRequired(t)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.App.Port != 5069 {
		t.Errorf("App.Port = %d, want 5069", cfg.App.Port)
	}
	if cfg.MQTT.ReconnectDelay != 5*time.Second {
		t.Errorf("MQTT.ReconnectDelay = %v, want 5s", cfg.MQTT.ReconnectDelay)
	}
	if cfg.Realtime.SweepInterval != 30*time.Second {
		t.Errorf("Realtime.SweepInterval = %v, want 30s", cfg.Realtime.SweepInterval)
	}
	if cfg.Redis.StateTTL != time.Hour {
		t.Errorf("Redis.StateTTL = %v, want 1h", cfg.Redis.StateTTL)
	}
	if cfg.Automation.Dispatcher != "inline" {
		t.Errorf("Automation.Dispatcher = %q, want inline", cfg.Automation.Dispatcher)
	}
	if cfg.Telemetry.Workers != 8 || cfg.Telemetry.Buffer != 256 {
		t.Errorf("Telemetry = %+v, want 8 workers, 256 buffer", cfg.Telemetry)
	}
	if cfg.Influx.Enabled() {
		t.Error("Influx should be disabled without a URL")
	}
}

func TestLoadConfigLegacyEnvNames(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DB_URL", "postgres://legacy/homehub")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("APP_STATION_ID", "station-1")
	t.Setenv("MQTT_RECONNECT_DELAY", "2s")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.URL != "postgres://legacy/homehub" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ReconnectDelay != 2*time.Second {
		t.Errorf("MQTT.ReconnectDelay = %v, want 2s", cfg.MQTT.ReconnectDelay)
	}
}

func TestLoadConfigFileAndStationFlag(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "secret")

	path := filepath.Join(t.TempDir(), "homehub.yaml")
	body := `
database:
  url: postgres://file/homehub
automation:
  dispatcher: queue
telemetry:
  workers: 4
realtime:
  path: /realtime
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig([]string{"--config", path, "--station", "garage"})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.URL != "postgres://file/homehub" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Automation.Dispatcher != "queue" {
		t.Errorf("Automation.Dispatcher = %q, want queue", cfg.Automation.Dispatcher)
	}
	if cfg.Telemetry.Workers != 4 {
		t.Errorf("Telemetry.Workers = %d, want 4", cfg.Telemetry.Workers)
	}
	if cfg.Realtime.Path != "/realtime" {
		t.Errorf("Realtime.Path = %q", cfg.Realtime.Path)
	}
	if cfg.App.StationID != "garage" {
		t.Errorf("App.StationID = %q, want garage", cfg.App.StationID)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	chdirTemp(t)

	_, err := LoadConfig(nil)
	if err == nil {
		t.Fatal("LoadConfig() expected error for missing keys")
	}
	for _, key := range []string{"database.url", "jwt.secret", "app.station_id"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidateRejectsUnknownDispatcher(t *testing.T) {
	cfg := &Config{
		App:        AppConfig{StationID: "s"},
		Database:   DatabaseConfig{URL: "postgres://x"},
		JWT:        JWTConfig{Secret: "k"},
		Realtime:   RealtimeConfig{SweepInterval: time.Second},
		Automation: AutomationConfig{Dispatcher: "kafka"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for unknown dispatcher")
	}
}
