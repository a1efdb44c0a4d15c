package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration. The file format is a flat
// key-value YAML document so the web UI can edit it field by field.
type Config struct {
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTPort     int    `yaml:"mqtt_port"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`

	// PollInterval is the refresh cadence in seconds while connected.
	PollInterval int `yaml:"poll_interval"`

	BlinkEmail    string `yaml:"blink_email"`
	BlinkPassword string `yaml:"blink_password"`

	ListenAddress   string `yaml:"listen_address"`
	ImagesDir       string `yaml:"images_dir"`
	CredentialsFile string `yaml:"credentials_file"`
	LogLevel        string `yaml:"log_level"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		MQTTBroker:      "localhost",
		MQTTPort:        1883,
		PollInterval:    3600,
		ListenAddress:   ":8080",
		ImagesDir:       "/data/images",
		CredentialsFile: "/data/blink_credentials.json",
		LogLevel:        "info",
	}
}

// Load reads configuration from a YAML file at path, then overlays
// environment variables. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Save writes the configuration to path as YAML. The write is atomic:
// a temp file in the same directory is renamed over the target so a
// crash mid-write never leaves a truncated config behind.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the daemon cannot start with.
func (c Config) Validate() error {
	if c.MQTTPort < 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("config: mqtt_port %d out of range", c.MQTTPort)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config: poll_interval %d is negative", c.PollInterval)
	}
	return nil
}

// BlinkConfigured reports whether vendor credentials are present.
func (c Config) BlinkConfigured() bool {
	return c.BlinkEmail != "" && c.BlinkPassword != ""
}

// MQTTConfigured reports whether a broker address is set. A blank broker
// disables publishing rather than failing startup.
func (c Config) MQTTConfigured() bool {
	return c.MQTTBroker != ""
}

// BrokerURL returns the paho broker URL for the configured host and port.
func (c Config) BrokerURL() string {
	host := c.MQTTBroker
	if strings.Contains(host, "://") {
		return host
	}
	port := c.MQTTPort
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// PollDuration returns the connected-state refresh interval. Values under
// a minute are clamped so a misconfigured file cannot hammer the cloud API.
func (c Config) PollDuration() time.Duration {
	secs := c.PollInterval
	if secs < 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// ParseLevel maps a config log_level string onto a slog.Level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values. The names match the ones
// the container images have always honored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		cfg.MQTTPort = parseInt(v, cfg.MQTTPort)
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTTUsername = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTTPassword = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		cfg.PollInterval = parseInt(v, cfg.PollInterval)
	}
	if v := os.Getenv("BLINK_EMAIL"); v != "" {
		cfg.BlinkEmail = v
	}
	if v := os.Getenv("BLINK_PASSWORD"); v != "" {
		cfg.BlinkPassword = v
	}
	if v := os.Getenv("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("IMAGES_DIR"); v != "" {
		cfg.ImagesDir = v
	}
	if v := os.Getenv("CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
