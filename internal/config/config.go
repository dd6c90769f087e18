// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
// Durations are kept as strings and parsed by the helper methods, which fall back to defaults.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogFormat is "json" (production encoder) or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// SecurityThreshold is the minimum liveness score classified REAL (0–1).
	SecurityThreshold float64 `mapstructure:"SECURITY_THRESHOLD"`
	// HoldDurationRaw is how long the colour must stay continuously visible (e.g. "2s").
	HoldDurationRaw string `mapstructure:"HOLD_DURATION"`
	// MaxHoldWaitRaw bounds the whole colour-hold step (e.g. "60s").
	MaxHoldWaitRaw string `mapstructure:"MAX_HOLD_WAIT"`
	// ContourMinArea is the noise floor for a colour region in px².
	ContourMinArea float64 `mapstructure:"CONTOUR_MIN_AREA"`
	// ColorRangesFile optionally overrides the HSV table (YAML).
	ColorRangesFile string `mapstructure:"COLOR_RANGES_FILE"`
	// FallbackChallengesFile optionally overrides the fallback challenge pool (YAML).
	FallbackChallengesFile string `mapstructure:"FALLBACK_CHALLENGES_FILE"`
	// CameraIndices is a comma-separated list of device indices probed in order.
	CameraIndices string `mapstructure:"CAMERA_INDICES"`
	// ShowOverlay opens the operator preview window.
	ShowOverlay bool `mapstructure:"SHOW_OVERLAY"`

	// OllamaURL is the base URL of the local text-generation service.
	OllamaURL string `mapstructure:"OLLAMA_URL"`
	// LLMModel is the model used for challenges and narratives.
	LLMModel string `mapstructure:"LLM_MODEL"`
	// LLMTimeoutRaw bounds each generator call.
	LLMTimeoutRaw string `mapstructure:"LLM_TIMEOUT"`

	// FaceServiceURL scores face authenticity; empty disables scoring (label ERROR).
	FaceServiceURL string `mapstructure:"FACE_SERVICE_URL"`
	// EmotionServiceURL classifies facial expression; empty yields "undetected".
	EmotionServiceURL string `mapstructure:"EMOTION_SERVICE_URL"`
	// FaceCascadePath is a Haar cascade file or directory used to crop faces before scoring.
	FaceCascadePath string `mapstructure:"FACE_CASCADE_PATH"`
	// ClassifierTimeoutRaw bounds each classifier call.
	ClassifierTimeoutRaw string `mapstructure:"CLASSIFIER_TIMEOUT"`

	// RequireRealFace denies FAKE faces. Off by default to match the reference flow.
	RequireRealFace bool `mapstructure:"REQUIRE_REAL_FACE"`
	// DecisionPolicyFile optionally replaces the built-in Rego decision policy.
	DecisionPolicyFile string `mapstructure:"DECISION_POLICY_FILE"`

	// TokenIssuer is "ledger" (simulated transaction hash) or "jwt".
	TokenIssuer string `mapstructure:"TOKEN_ISSUER"`
	// LedgerConfirmDelayRaw simulates block confirmation latency for the ledger issuer.
	LedgerConfirmDelayRaw string `mapstructure:"LEDGER_CONFIRM_DELAY"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; derived from the private key when empty.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of proof tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of proof tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// TokenTTLRaw is the proof token lifetime; "0" means no expiry.
	TokenTTLRaw string `mapstructure:"TOKEN_TTL"`

	// DatabaseURL is the Postgres DSN for the attempt ledger; empty disables recording.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Telemetry (optional). When Kafka brokers are set, attempts emit events to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// OTelEndpoint is the OTLP gRPC collector address; empty disables OTel export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces a plaintext OTLP connection.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// GRPCAddr is where the kiosk serves gRPC health (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// KioskIntervalRaw is the minimum spacing between kiosk attempts.
	KioskIntervalRaw string `mapstructure:"KIOSK_INTERVAL"`
}

var defaults = map[string]any{
	"APP_ENV":                     "",
	"LOG_FORMAT":                  "json",
	"LOG_LEVEL":                   "info",
	"SECURITY_THRESHOLD":          0.85,
	"HOLD_DURATION":               "2s",
	"MAX_HOLD_WAIT":               "60s",
	"CONTOUR_MIN_AREA":            5000.0,
	"COLOR_RANGES_FILE":           "",
	"FALLBACK_CHALLENGES_FILE":    "",
	"CAMERA_INDICES":              "0,1,-1",
	"SHOW_OVERLAY":                true,
	"OLLAMA_URL":                  "http://localhost:11434",
	"LLM_MODEL":                   "llama3.2:3b",
	"LLM_TIMEOUT":                 "20s",
	"FACE_SERVICE_URL":            "",
	"EMOTION_SERVICE_URL":         "",
	"FACE_CASCADE_PATH":           "",
	"CLASSIFIER_TIMEOUT":          "10s",
	"REQUIRE_REAL_FACE":           false,
	"DECISION_POLICY_FILE":        "",
	"TOKEN_ISSUER":                "ledger",
	"LEDGER_CONFIRM_DELAY":        "1s",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_ISSUER":                  "proof-of-life-gate",
	"JWT_AUDIENCE":                "access",
	"TOKEN_TTL":                   "15m",
	"DATABASE_URL":                "",
	"KAFKA_BROKERS":               "",
	"TELEMETRY_KAFKA_TOPIC":       "pol-telemetry",
	"KAFKA_GROUP_ID":              "pol-telemetry-worker",
	"LOKI_URL":                    "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SERVICE_NAME":           "proof-of-life-gate",
	"GRPC_ADDR":                   ":8080",
	"KIOSK_INTERVAL":              "5s",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore a missing file

	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.SecurityThreshold < 0 || c.SecurityThreshold > 1 {
		errs = append(errs, errors.New("config: SECURITY_THRESHOLD must be between 0 and 1"))
	}
	if c.ContourMinArea < 0 {
		errs = append(errs, errors.New("config: CONTOUR_MIN_AREA must not be negative"))
	}
	switch c.TokenIssuer {
	case "ledger":
	case "jwt":
		if strings.TrimSpace(c.JWTPrivateKey) == "" {
			errs = append(errs, errors.New("config: JWT_PRIVATE_KEY is required when TOKEN_ISSUER=jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: TOKEN_ISSUER must be ledger or jwt, got %q", c.TokenIssuer))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if _, err := c.CameraIndicesList(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.durationErrors()...)
	if c.Production() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required when APP_ENV=production"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("config: GRPC_ADDR must be set"))
	}
	return errors.Join(errs...)
}

// durationErrors reports duration knobs that do not parse. Blank values fall back to defaults.
func (c *Config) durationErrors() []error {
	durations := []struct {
		key       string
		raw       string
		allowZero bool
	}{
		{"HOLD_DURATION", c.HoldDurationRaw, false},
		{"MAX_HOLD_WAIT", c.MaxHoldWaitRaw, false},
		{"LLM_TIMEOUT", c.LLMTimeoutRaw, false},
		{"CLASSIFIER_TIMEOUT", c.ClassifierTimeoutRaw, false},
		{"KIOSK_INTERVAL", c.KioskIntervalRaw, false},
		{"LEDGER_CONFIRM_DELAY", c.LedgerConfirmDelayRaw, true},
		{"TOKEN_TTL", c.TokenTTLRaw, true},
	}
	var errs []error
	for _, d := range durations {
		raw := strings.TrimSpace(d.raw)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("config: %s: %q is not a duration (e.g. 2s, 500ms)", d.key, d.raw))
		case v < 0 || (v == 0 && !d.allowZero):
			errs = append(errs, fmt.Errorf("config: %s must be positive, got %q", d.key, d.raw))
		}
	}
	return errs
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool { return c.Env == "production" }

// HoldDuration parses HOLD_DURATION. Returns 2s if unset or invalid.
func (c *Config) HoldDuration() time.Duration { return parseDuration(c.HoldDurationRaw, 2*time.Second) }

// MaxHoldWait parses MAX_HOLD_WAIT. Returns 60s if unset or invalid.
func (c *Config) MaxHoldWait() time.Duration { return parseDuration(c.MaxHoldWaitRaw, 60*time.Second) }

// LLMTimeout parses LLM_TIMEOUT. Returns 20s if unset or invalid.
func (c *Config) LLMTimeout() time.Duration { return parseDuration(c.LLMTimeoutRaw, 20*time.Second) }

// ClassifierTimeout parses CLASSIFIER_TIMEOUT. Returns 10s if unset or invalid.
func (c *Config) ClassifierTimeout() time.Duration {
	return parseDuration(c.ClassifierTimeoutRaw, 10*time.Second)
}

// KioskInterval parses KIOSK_INTERVAL. Returns 5s if unset or invalid.
func (c *Config) KioskInterval() time.Duration {
	return parseDuration(c.KioskIntervalRaw, 5*time.Second)
}

// LedgerConfirmDelay parses LEDGER_CONFIRM_DELAY. Zero is allowed; invalid values give 1s.
func (c *Config) LedgerConfirmDelay() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.LedgerConfirmDelayRaw))
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// TokenTTL parses TOKEN_TTL. Zero means no expiry; invalid values give 15m.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.TokenTTLRaw))
	if err != nil || d < 0 {
		return 15 * time.Minute
	}
	return d
}

// CameraIndicesList parses CAMERA_INDICES. An empty value yields nil (use the camera defaults).
func (c *Config) CameraIndicesList() ([]int, error) {
	var out []int
	for _, p := range splitList(c.CameraIndices) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("config: CAMERA_INDICES: %q is not an integer", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
