// Package config provides configuration management for the bb-randtest
// service. Configuration is loaded from environment variables with sensible
// defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment constants define the application runtime environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentProduction  = "prod"

	defaultToolPath          = "bb"
	defaultToolTimeout       = 5 * time.Second
	defaultSerialBaud        = 115200
	defaultSerialReadTimeout = time.Second
	defaultMonitorInterval   = 30 * time.Second
	defaultSampleBytes       = 2048
	minSampleBytes           = 1
	maxSampleBytes           = 1 << 24 // 16 MiB; analyses are in-memory
	defaultRetryAfterSeconds = 1
)

// Source names select the entropy source the monitor draws from.
const (
	SourceDevice = "device"
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceFile   = "file"
)

// Device contains configuration for the external device CLI tool.
type Device struct {
	ToolPath string        `json:"tool_path"` // Device tool binary path or name resolved via PATH
	Timeout  time.Duration `json:"timeout"`   // Upper bound on one tool invocation
}

// Serial contains configuration for a serial-port RNG.
type Serial struct {
	Device      string        `json:"device"`       // Serial device path (e.g., "/dev/ttyACM0")
	Baud        int           `json:"baud"`         // Baud rate (default: 115200)
	ReadTimeout time.Duration `json:"read_timeout"` // Per-read timeout (default: 1s)
}

// MQTT contains configuration for the MQTT broker connection.
type MQTT struct {
	BrokerURL   string        `json:"broker_url"`   // MQTT broker URL (e.g., "tcp://localhost:1883" or "ssl://mqtt.example.com:8883")
	ClientID    string        `json:"client_id"`    // MQTT client ID (auto-generated if empty)
	Topics      []string      `json:"topics"`       // MQTT topics to subscribe to (e.g., ["entropy/samples/#"])
	QoS         byte          `json:"qos"`          // Quality of Service level (0 or 1)
	Username    string        `json:"username"`     // MQTT username for authentication (optional)
	Password    string        `json:"password"`     // MQTT password for authentication (optional)
	TLSCAFile   string        `json:"tls_ca_file"`  // Path to CA certificate for TLS verification (optional)
	ReadTimeout time.Duration `json:"read_timeout"` // How long one sample read may wait for broker bytes
}

// Monitor contains configuration for the continuous assessment loop.
type Monitor struct {
	Source      string        `json:"source"`       // Entropy source: "device", "serial", "mqtt", or "file"
	FilePath    string        `json:"file_path"`    // Capture file path (source "file" only)
	FileHex     bool          `json:"file_hex"`     // Capture file is hex-encoded
	Interval    time.Duration `json:"interval"`     // Time between assessments
	SampleBytes int           `json:"sample_bytes"` // Bytes acquired per assessment
}

// API contains configuration for the report HTTP server.
type API struct {
	Bind           string `json:"bind"` // Bind address (e.g., "127.0.0.1:8081")
	AllowPublic    bool   `json:"allow_public"`
	RetryAfterSec  int    `json:"retry_after_sec"`
	RateLimitRPS   int    `json:"rate_limit_rps"`   // Rate limit: requests per second (default: 25)
	RateLimitBurst int    `json:"rate_limit_burst"` // Rate limit: burst allowance (default: 25)
}

// Metrics contains Prometheus metrics server configuration.
type Metrics struct {
	Bind    string `json:"bind"`    // Bind address for metrics server (e.g., "127.0.0.1:8080")
	Enabled bool   `json:"enabled"` // Enable metrics server
}

// Config holds the complete application configuration.
type Config struct {
	Device      Device  `json:"device"`      // Device CLI tool configuration
	Serial      Serial  `json:"serial"`      // Serial RNG configuration
	MQTT        MQTT    `json:"mqtt"`        // MQTT broker configuration
	Monitor     Monitor `json:"monitor"`     // Assessment loop configuration
	API         API     `json:"api"`         // Report API server configuration
	Metrics     Metrics `json:"metrics"`     // Metrics server configuration
	Environment string  `json:"environment"` // Runtime environment ("dev" or "prod")
}

// Load reads configuration from environment variables and returns a
// validated Config. It applies defaults first, then overrides with
// environment variables.
func Load() (Config, error) {
	configuration := Config{
		Device: Device{
			ToolPath: defaultToolPath,
			Timeout:  defaultToolTimeout,
		},
		Serial: Serial{
			Baud:        defaultSerialBaud,
			ReadTimeout: defaultSerialReadTimeout,
		},
		MQTT: MQTT{
			BrokerURL:   "tcp://127.0.0.1:1883",
			Topics:      []string{"entropy/samples/#"},
			QoS:         0,
			ReadTimeout: time.Minute,
		},
		Monitor: Monitor{
			Source:      SourceDevice,
			Interval:    defaultMonitorInterval,
			SampleBytes: defaultSampleBytes,
		},
		API: API{
			Bind:          "127.0.0.1:8081", // Default to localhost only
			RetryAfterSec: defaultRetryAfterSeconds,
		},
		Metrics: Metrics{
			Bind:    "127.0.0.1:8080", // Default to localhost only
			Enabled: true,
		},
		Environment: EnvironmentDevelopment,
	}

	if err := applyDeviceEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applySerialEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyMQTTEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyMonitorEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyAPIEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyMetricsEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyEnvironmentEnvVars(&configuration); err != nil {
		return configuration, err
	}

	if err := validate(&configuration); err != nil {
		return configuration, err
	}

	return configuration, nil
}

// applyDeviceEnvVars reads device tool environment variables.
// DEVICE_TOOL_PATH names the binary and DEVICE_TOOL_TIMEOUT bounds one
// invocation (duration with unit, e.g., "5s").
func applyDeviceEnvVars(configuration *Config) error {
	configuration.Device.ToolPath = GetEnvDefault("DEVICE_TOOL_PATH", configuration.Device.ToolPath)
	configuration.Device.Timeout = ParseDurationEnv("DEVICE_TOOL_TIMEOUT", configuration.Device.Timeout)
	return nil
}

// applySerialEnvVars reads serial RNG environment variables.
func applySerialEnvVars(configuration *Config) error {
	configuration.Serial.Device = GetEnvDefault("SERIAL_DEVICE", configuration.Serial.Device)
	configuration.Serial.Baud = ParsePositiveEnvInt("SERIAL_BAUD", configuration.Serial.Baud)
	configuration.Serial.ReadTimeout = ParseDurationEnv("SERIAL_READ_TIMEOUT", configuration.Serial.ReadTimeout)
	return nil
}

// applyMQTTEnvVars reads MQTT environment variables. MQTT_BROKER_URL picks
// the broker, MQTT_CLIENT_ID overrides the identifier, MQTT_TOPICS controls
// the subscription filters (comma-separated), and MQTT_QOS clamps QoS to 0
// or 1.
func applyMQTTEnvVars(configuration *Config) error {
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		configuration.MQTT.BrokerURL = v
	}

	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		configuration.MQTT.ClientID = v
	}

	if v := os.Getenv("MQTT_TOPICS"); v != "" {
		topics := strings.Split(v, ",")
		var cleanTopics []string
		for _, topic := range topics {
			trimmed := strings.TrimSpace(topic)
			if trimmed != "" {
				cleanTopics = append(cleanTopics, trimmed)
			}
		}
		if len(cleanTopics) > 0 {
			configuration.MQTT.Topics = cleanTopics
		}
	}

	if v := os.Getenv("MQTT_QOS"); v != "" {
		qos, err := strconv.Atoi(cleanEnvValue(v))
		if err != nil {
			return errors.New("config: MQTT_QOS must be a number (0 or 1)")
		}
		// Clamp QoS to valid range [0, 1]
		if qos < 0 {
			qos = 0
		}
		if qos > 1 {
			qos = 1
		}
		configuration.MQTT.QoS = byte(qos)
	}

	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		configuration.MQTT.Username = v
	}

	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		configuration.MQTT.Password = v
	}

	// Read password from file if MQTT_PASSWORD_FILE is set (more secure)
	if passwordFile := os.Getenv("MQTT_PASSWORD_FILE"); passwordFile != "" {
		passwordBytes, err := readSecretFile(passwordFile)
		if err != nil {
			return fmt.Errorf("config: failed to read MQTT_PASSWORD_FILE: %w", err)
		}
		configuration.MQTT.Password = strings.TrimSpace(string(passwordBytes))
	}

	if v := os.Getenv("MQTT_TLS_CA_FILE"); v != "" {
		configuration.MQTT.TLSCAFile = v
	}

	configuration.MQTT.ReadTimeout = ParseDurationEnv("MQTT_READ_TIMEOUT", configuration.MQTT.ReadTimeout)

	return nil
}

func readSecretFile(path string) ([]byte, error) {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return nil, err
	}
	return readFileWithinRoot(absPath)
}

func sanitizeAbsolutePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("config: empty file path")
	}
	clean := filepath.Clean(path)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	return abs, nil
}

func readFileWithinRoot(absPath string) ([]byte, error) {
	dir := filepath.Dir(absPath)
	base := filepath.Base(absPath)
	f, err := os.OpenInRoot(dir, base)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("error closing file: %v", err)
		}
	}()
	return io.ReadAll(f)
}

// applyMonitorEnvVars reads assessment loop environment variables.
// MONITOR_SAMPLE_BYTES is clamped to [minSampleBytes, maxSampleBytes] with
// a warning log.
func applyMonitorEnvVars(configuration *Config) error {
	if v := os.Getenv("MONITOR_SOURCE"); v != "" {
		configuration.Monitor.Source = strings.ToLower(cleanEnvValue(v))
	}

	configuration.Monitor.FilePath = GetEnvDefault("MONITOR_FILE_PATH", configuration.Monitor.FilePath)
	configuration.Monitor.FileHex = ParseBoolEnv("MONITOR_FILE_HEX", configuration.Monitor.FileHex)
	configuration.Monitor.Interval = ParseDurationEnv("MONITOR_INTERVAL", configuration.Monitor.Interval)

	if v := os.Getenv("MONITOR_SAMPLE_BYTES"); v != "" {
		parsed, err := strconv.Atoi(cleanEnvValue(v))
		if err != nil {
			log.Printf("config: MONITOR_SAMPLE_BYTES invalid (%q), using default %d", v, defaultSampleBytes)
			configuration.Monitor.SampleBytes = defaultSampleBytes
			return nil
		}

		// Clamp to valid range
		if parsed < minSampleBytes {
			log.Printf("config: MONITOR_SAMPLE_BYTES (%d) below minimum (%d), clamping to min", parsed, minSampleBytes)
			configuration.Monitor.SampleBytes = minSampleBytes
		} else if parsed > maxSampleBytes {
			log.Printf("config: MONITOR_SAMPLE_BYTES (%d) above maximum (%d), clamping to max", parsed, maxSampleBytes)
			configuration.Monitor.SampleBytes = maxSampleBytes
		} else {
			configuration.Monitor.SampleBytes = parsed
		}
	}

	return nil
}

// applyAPIEnvVars reads report API server environment variables.
func applyAPIEnvVars(configuration *Config) error {
	configuration.API.Bind = GetEnvDefault("API_BIND", configuration.API.Bind)
	configuration.API.AllowPublic = ParseBoolEnv("ALLOW_PUBLIC_HTTP", configuration.API.AllowPublic)
	configuration.API.RetryAfterSec = ParsePositiveEnvInt("API_RETRY_AFTER_SEC", configuration.API.RetryAfterSec)
	configuration.API.RateLimitRPS = ParsePositiveEnvInt("API_RATE_LIMIT_RPS", 25)     // Default 25 req/s
	configuration.API.RateLimitBurst = ParsePositiveEnvInt("API_RATE_LIMIT_BURST", 25) // Default 25 burst
	return nil
}

// applyMetricsEnvVars reads Prometheus metrics server environment variables.
func applyMetricsEnvVars(configuration *Config) error {
	configuration.Metrics.Bind = GetEnvDefault("METRICS_BIND", configuration.Metrics.Bind)
	configuration.Metrics.Enabled = ParseBoolEnv("METRICS_ENABLED", configuration.Metrics.Enabled)
	return nil
}

// applyEnvironmentEnvVars normalizes ENVIRONMENT into "dev" or "prod".
// Valid inputs are "dev"/"development" and "prod"/"production"; other
// values error out.
func applyEnvironmentEnvVars(configuration *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		env := strings.ToLower(strings.TrimSpace(v))

		switch env {
		case "dev", "development":
			configuration.Environment = EnvironmentDevelopment
		case "prod", "production":
			configuration.Environment = EnvironmentProduction
		default:
			return errors.New("config: ENVIRONMENT must be 'dev' or 'prod'")
		}
	}

	return nil
}

// validate checks that required configuration fields are present and valid.
func validate(configuration *Config) error {
	switch configuration.Monitor.Source {
	case SourceDevice:
		if configuration.Device.ToolPath == "" {
			return errors.New("config: DEVICE_TOOL_PATH is required when MONITOR_SOURCE=device")
		}
	case SourceSerial:
		if configuration.Serial.Device == "" {
			return errors.New("config: SERIAL_DEVICE is required when MONITOR_SOURCE=serial")
		}
	case SourceMQTT:
		if configuration.MQTT.BrokerURL == "" {
			return errors.New("config: MQTT_BROKER_URL is required when MONITOR_SOURCE=mqtt")
		}
		if len(configuration.MQTT.Topics) == 0 {
			return errors.New("config: MQTT_TOPICS is required (at least one topic)")
		}
	case SourceFile:
		if configuration.Monitor.FilePath == "" {
			return errors.New("config: MONITOR_FILE_PATH is required when MONITOR_SOURCE=file")
		}
	default:
		return fmt.Errorf("config: MONITOR_SOURCE must be 'device', 'serial', 'mqtt', or 'file', got %q", configuration.Monitor.Source)
	}

	if configuration.Environment != EnvironmentDevelopment && configuration.Environment != EnvironmentProduction {
		return errors.New("config: environment must be 'dev' or 'prod'")
	}

	// SECURITY: the report surface carries raw sample statistics; refuse a
	// public bind in production.
	if configuration.API.AllowPublic && configuration.IsProduction() {
		return errors.New("config: ALLOW_PUBLIC_HTTP=true is not permitted in production mode")
	}
	if configuration.API.AllowPublic {
		log.Printf("WARNING: Running public HTTP in development mode - this is insecure!")
	}

	return nil
}

// IsProduction returns true if the application is running in production mode.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// IsDevelopment returns true if the application is running in development mode.
func (cfg *Config) IsDevelopment() bool {
	return cfg.Environment == EnvironmentDevelopment
}

// String returns a human-readable representation of the configuration.
func (cfg *Config) String() string {
	return "Config{" +
		"Environment=" + cfg.Environment +
		", Monitor.Source=" + cfg.Monitor.Source +
		", Monitor.SampleBytes=" + strconv.Itoa(cfg.Monitor.SampleBytes) +
		"}"
}

// cleanEnvValue removes inline comments and trims whitespace from
// environment variable values. This handles systemd EnvironmentFile format
// where inline comments are included in the value.
// Example: "127.0.0.1:8080 # bind address" becomes "127.0.0.1:8080"
func cleanEnvValue(value string) string {
	cleaned := strings.TrimSpace(value)
	if idx := strings.Index(cleaned, "#"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}
	return cleaned
}

// GetEnvDefault retrieves an environment variable or returns a fallback
// value. Empty or whitespace-only values are treated as unset. Inline
// comments (e.g., "value # comment") are stripped.
func GetEnvDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		cleaned := cleanEnvValue(value)
		if cleaned != "" {
			return cleaned
		}
	}
	return fallback
}

// ParsePositiveEnvInt reads an integer environment variable with
// validation. Returns the fallback if the variable is unset, invalid, or
// non-positive. Inline comments (e.g., "512 # comment") are stripped.
func ParsePositiveEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(cleaned)
	if err != nil {
		log.Printf("config: %s invalid (%q), using fallback %d", key, value, fallback)
		return fallback
	}
	if parsed <= 0 {
		log.Printf("config: %s non-positive (%d), using fallback %d", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseDurationEnv reads a duration environment variable with validation.
// Values must include a unit suffix (e.g., "500ms", "30s", "5m"). Returns
// the fallback if the variable is unset, invalid, or negative. Inline
// comments (e.g., "5s # comment") are stripped.
func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	hasUnit := false
	for i := 0; i < len(cleaned); i++ {
		ch := cleaned[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			hasUnit = true
			break
		}
	}
	if !hasUnit {
		log.Printf("config: %s missing duration unit (%q), using fallback %s", key, value, fallback)
		return fallback
	}
	parsed, err := time.ParseDuration(cleaned)
	if err != nil {
		log.Printf("config: %s invalid (%q), using fallback %s", key, value, fallback)
		return fallback
	}
	if parsed < 0 {
		log.Printf("config: %s negative (%s), using fallback %s", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseBoolEnv interprets typical boolean environment values (true/false,
// 1/0, yes/no). Inline comments (e.g., "true # enable feature") are
// stripped.
func ParseBoolEnv(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	switch strings.ToLower(cleaned) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		log.Printf("config: %s has unrecognised boolean value %q, using fallback %v", key, value, fallback)
		return fallback
	}
}
