package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearConfigEnv unsets every variable Load consults so tests observe
// defaults regardless of the invoking shell.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		"DEVICE_TOOL_PATH", "DEVICE_TOOL_TIMEOUT",
		"SERIAL_DEVICE", "SERIAL_BAUD", "SERIAL_READ_TIMEOUT",
		"MQTT_BROKER_URL", "MQTT_CLIENT_ID", "MQTT_TOPICS", "MQTT_QOS",
		"MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PASSWORD_FILE",
		"MQTT_TLS_CA_FILE", "MQTT_READ_TIMEOUT",
		"MONITOR_SOURCE", "MONITOR_FILE_PATH", "MONITOR_FILE_HEX",
		"MONITOR_INTERVAL", "MONITOR_SAMPLE_BYTES",
		"API_BIND", "ALLOW_PUBLIC_HTTP", "API_RETRY_AFTER_SEC",
		"API_RATE_LIMIT_RPS", "API_RATE_LIMIT_BURST",
		"METRICS_BIND", "METRICS_ENABLED",
		"ENVIRONMENT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Device.ToolPath != "bb" {
		t.Errorf("expected default tool path 'bb', got %q", cfg.Device.ToolPath)
	}
	if cfg.Device.Timeout != 5*time.Second {
		t.Errorf("expected default tool timeout 5s, got %v", cfg.Device.Timeout)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("expected default baud 115200, got %d", cfg.Serial.Baud)
	}
	if cfg.MQTT.BrokerURL != "tcp://127.0.0.1:1883" {
		t.Errorf("unexpected default broker URL: %q", cfg.MQTT.BrokerURL)
	}
	if len(cfg.MQTT.Topics) != 1 || cfg.MQTT.Topics[0] != "entropy/samples/#" {
		t.Errorf("unexpected default topics: %v", cfg.MQTT.Topics)
	}
	if cfg.Monitor.Source != SourceDevice {
		t.Errorf("expected default source 'device', got %q", cfg.Monitor.Source)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("expected default interval 30s, got %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.SampleBytes != 2048 {
		t.Errorf("expected default sample bytes 2048, got %d", cfg.Monitor.SampleBytes)
	}
	if cfg.API.Bind != "127.0.0.1:8081" {
		t.Errorf("unexpected default API bind: %q", cfg.API.Bind)
	}
	if cfg.API.RateLimitRPS != 25 || cfg.API.RateLimitBurst != 25 {
		t.Errorf("unexpected default rate limits: rps=%d burst=%d", cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)
	}
	if cfg.Metrics.Bind != "127.0.0.1:8080" || !cfg.Metrics.Enabled {
		t.Errorf("unexpected default metrics config: %+v", cfg.Metrics)
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Errorf("expected development environment, got %q", cfg.Environment)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("DEVICE_TOOL_PATH", "/usr/local/bin/bb")
	t.Setenv("DEVICE_TOOL_TIMEOUT", "10s")
	t.Setenv("SERIAL_DEVICE", "/dev/ttyACM0")
	t.Setenv("SERIAL_BAUD", "9600")
	t.Setenv("MQTT_BROKER_URL", "ssl://broker.example.com:8883")
	t.Setenv("MQTT_TOPICS", "entropy/a, entropy/b ,, ")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MONITOR_INTERVAL", "1m")
	t.Setenv("MONITOR_SAMPLE_BYTES", "4096")
	t.Setenv("API_BIND", "127.0.0.1:9000")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Device.ToolPath != "/usr/local/bin/bb" || cfg.Device.Timeout != 10*time.Second {
		t.Errorf("device overrides not applied: %+v", cfg.Device)
	}
	if cfg.Serial.Device != "/dev/ttyACM0" || cfg.Serial.Baud != 9600 {
		t.Errorf("serial overrides not applied: %+v", cfg.Serial)
	}
	if cfg.MQTT.BrokerURL != "ssl://broker.example.com:8883" {
		t.Errorf("broker override not applied: %q", cfg.MQTT.BrokerURL)
	}
	if len(cfg.MQTT.Topics) != 2 || cfg.MQTT.Topics[0] != "entropy/a" || cfg.MQTT.Topics[1] != "entropy/b" {
		t.Errorf("topics not cleaned: %v", cfg.MQTT.Topics)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("QoS override not applied: %d", cfg.MQTT.QoS)
	}
	if cfg.Monitor.Interval != time.Minute || cfg.Monitor.SampleBytes != 4096 {
		t.Errorf("monitor overrides not applied: %+v", cfg.Monitor)
	}
	if cfg.API.Bind != "127.0.0.1:9000" {
		t.Errorf("API bind override not applied: %q", cfg.API.Bind)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled")
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production environment, got %q", cfg.Environment)
	}
}

func TestLoadMQTTQoS(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantQoS byte
		wantErr bool
	}{
		{name: "zero", value: "0", wantQoS: 0},
		{name: "one", value: "1", wantQoS: 1},
		{name: "clamped high", value: "2", wantQoS: 1},
		{name: "clamped negative", value: "-1", wantQoS: 0},
		{name: "with inline comment", value: "1  # at-least-once", wantQoS: 1},
		{name: "not a number", value: "abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("MQTT_QOS", tc.value)

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error for invalid MQTT_QOS")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if cfg.MQTT.QoS != tc.wantQoS {
				t.Fatalf("expected QoS %d, got %d", tc.wantQoS, cfg.MQTT.QoS)
			}
		})
	}
}

func TestLoadMQTTPasswordFile(t *testing.T) {
	clearConfigEnv(t)

	passwordFile := filepath.Join(t.TempDir(), "mqtt-password")
	if err := os.WriteFile(passwordFile, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}

	t.Setenv("MQTT_PASSWORD", "from-env")
	t.Setenv("MQTT_PASSWORD_FILE", passwordFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	// The file takes precedence and the value is trimmed.
	if cfg.MQTT.Password != "s3cret" {
		t.Fatalf("expected password from file, got %q", cfg.MQTT.Password)
	}
}

func TestLoadMQTTPasswordFileMissing(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("MQTT_PASSWORD_FILE", filepath.Join(t.TempDir(), "missing"))

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MQTT_PASSWORD_FILE") {
		t.Fatalf("expected MQTT_PASSWORD_FILE error, got %v", err)
	}
}

func TestLoadMonitorSourceValidation(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		errorSubstr string
	}{
		{
			name:        "unknown source",
			env:         map[string]string{"MONITOR_SOURCE": "dice"},
			errorSubstr: "MONITOR_SOURCE",
		},
		{
			name:        "serial source requires device",
			env:         map[string]string{"MONITOR_SOURCE": "serial"},
			errorSubstr: "SERIAL_DEVICE",
		},
		{
			name:        "file source requires path",
			env:         map[string]string{"MONITOR_SOURCE": "file"},
			errorSubstr: "MONITOR_FILE_PATH",
		},
		{
			name: "mqtt source ok with defaults",
			env:  map[string]string{"MONITOR_SOURCE": "mqtt"},
		},
		{
			name: "serial source ok with device",
			env: map[string]string{
				"MONITOR_SOURCE": "serial",
				"SERIAL_DEVICE":  "/dev/ttyACM0",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if tc.errorSubstr == "" {
				if err != nil {
					t.Fatalf("Load returned error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errorSubstr) {
				t.Fatalf("expected error containing %q, got %v", tc.errorSubstr, err)
			}
		})
	}
}

func TestLoadSampleBytesClamping(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "below minimum", value: "0", want: minSampleBytes},
		{name: "above maximum", value: "999999999", want: maxSampleBytes},
		{name: "in range", value: "1024", want: 1024},
		{name: "invalid falls back", value: "lots", want: defaultSampleBytes},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("MONITOR_SAMPLE_BYTES", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if cfg.Monitor.SampleBytes != tc.want {
				t.Fatalf("expected %d sample bytes, got %d", tc.want, cfg.Monitor.SampleBytes)
			}
		})
	}
}

func TestLoadRejectsPublicHTTPInProduction(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("ALLOW_PUBLIC_HTTP", "true")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ALLOW_PUBLIC_HTTP") {
		t.Fatalf("expected public HTTP rejection in production, got %v", err)
	}
}

func TestLoadInvalidEnvironment(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("ENVIRONMENT", "staging")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ENVIRONMENT") {
		t.Fatalf("expected environment error, got %v", err)
	}
}

func TestGetEnvDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback string
		want     string
	}{
		{name: "unset", fallback: "fb", want: "fb"},
		{name: "set", value: "value", set: true, fallback: "fb", want: "value"},
		{name: "whitespace only", value: "   ", set: true, fallback: "fb", want: "fb"},
		{name: "inline comment stripped", value: "value # note", set: true, fallback: "fb", want: "value"},
		{name: "comment only", value: "# note", set: true, fallback: "fb", want: "fb"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := "BB_RANDTEST_TEST_STRING"
			os.Unsetenv(key)
			if tc.set {
				t.Setenv(key, tc.value)
			}

			if got := GetEnvDefault(key, tc.fallback); got != tc.want {
				t.Fatalf("GetEnvDefault = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParsePositiveEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		want  int
	}{
		{name: "unset", want: 7},
		{name: "valid", value: "42", set: true, want: 42},
		{name: "zero rejected", value: "0", set: true, want: 7},
		{name: "negative rejected", value: "-3", set: true, want: 7},
		{name: "garbage", value: "many", set: true, want: 7},
		{name: "inline comment", value: "42 # answer", set: true, want: 42},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := "BB_RANDTEST_TEST_INT"
			os.Unsetenv(key)
			if tc.set {
				t.Setenv(key, tc.value)
			}

			if got := ParsePositiveEnvInt(key, 7); got != tc.want {
				t.Fatalf("ParsePositiveEnvInt = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	fallback := 3 * time.Second
	tests := []struct {
		name  string
		value string
		set   bool
		want  time.Duration
	}{
		{name: "unset", want: fallback},
		{name: "valid", value: "500ms", set: true, want: 500 * time.Millisecond},
		{name: "missing unit", value: "500", set: true, want: fallback},
		{name: "negative", value: "-2s", set: true, want: fallback},
		{name: "garbage", value: "soon", set: true, want: fallback},
		{name: "inline comment", value: "1m # poll slowly", set: true, want: time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := "BB_RANDTEST_TEST_DURATION"
			os.Unsetenv(key)
			if tc.set {
				t.Setenv(key, tc.value)
			}

			if got := ParseDurationEnv(key, fallback); got != tc.want {
				t.Fatalf("ParseDurationEnv = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback bool
		want     bool
	}{
		{name: "unset", fallback: true, want: true},
		{name: "true", value: "true", set: true, want: true},
		{name: "yes", value: "yes", set: true, want: true},
		{name: "on", value: "on", set: true, want: true},
		{name: "one", value: "1", set: true, want: true},
		{name: "false", value: "false", set: true, fallback: true, want: false},
		{name: "off", value: "off", set: true, fallback: true, want: false},
		{name: "zero", value: "0", set: true, fallback: true, want: false},
		{name: "garbage", value: "maybe", set: true, fallback: true, want: true},
		{name: "inline comment", value: "true # enable", set: true, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := "BB_RANDTEST_TEST_BOOL"
			os.Unsetenv(key)
			if tc.set {
				t.Setenv(key, tc.value)
			}

			if got := ParseBoolEnv(key, tc.fallback); got != tc.want {
				t.Fatalf("ParseBoolEnv = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	s := cfg.String()
	for _, want := range []string{"Environment=dev", "Monitor.Source=device", "Monitor.SampleBytes=2048"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q: %s", want, s)
		}
	}
}
