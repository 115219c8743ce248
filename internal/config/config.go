package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
)

// Environment keys. Each has a matching command-line flag; see Load.
const (
	EnvHTTPAddr        = "QRCORE_HTTP_ADDR"
	EnvGRPCAddr        = "QRCORE_GRPC_ADDR"
	EnvStoreURI        = "QRCORE_STORE_URI"
	EnvStoreDB         = "QRCORE_STORE_DB"
	EnvPatternURL      = "QRCORE_PATTERN_URL"
	EnvSigningSecret   = "QRCORE_SIGNING_SECRET"
	EnvExternalTimeout = "QRCORE_EXTERNAL_TIMEOUT"
	EnvLogLevel        = "QRCORE_LOG_LEVEL"
	EnvRateLimit       = "QRCORE_RATE_LIMIT"
)

const DefaultRateLimit = 120 // requests per minute per client IP

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health listener

	// Store
	StoreURI string // mongodb://, mongodb+srv://, sqlite:<path> or memory:
	StoreDB  string

	PatternURL      string
	SigningSecret   string
	ExternalTimeout time.Duration

	LogLevel           slog.Level
	RateLimitPerMinute int // 0 disables

	// invalid holds parse failures keyed by environment name until Validate
	// reports them.
	invalid map[string]string
}

// ConfigError lists every missing or invalid setting.
type ConfigError struct {
	Missing []string
	Invalid map[string]string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("invalid %s: %s", k, e.Invalid[k]))
		}
	}
	return "config: " + strings.Join(parts, "; ")
}

// FromEnv reads the configuration from the environment. It does not
// validate; call Validate or use Load.
func FromEnv() Config {
	cfg := Config{
		HTTPAddr:           normaliseAddr(os.Getenv(EnvHTTPAddr)),
		GRPCAddr:           normaliseAddr(os.Getenv(EnvGRPCAddr)),
		StoreURI:           strings.TrimSpace(os.Getenv(EnvStoreURI)),
		StoreDB:            strings.TrimSpace(os.Getenv(EnvStoreDB)),
		PatternURL:         strings.TrimSpace(os.Getenv(EnvPatternURL)),
		SigningSecret:      os.Getenv(EnvSigningSecret),
		LogLevel:           slog.LevelInfo,
		RateLimitPerMinute: DefaultRateLimit,
	}

	if v := strings.TrimSpace(os.Getenv(EnvExternalTimeout)); v != "" {
		cfg.setExternalTimeout(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.setLogLevel(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvRateLimit)); v != "" {
		cfg.setRateLimit(v)
	}
	return cfg
}

// Load overlays command-line flags on the environment and validates the
// result. A *ConfigError is returned for bad settings; pflag.ErrHelp when
// usage was requested.
func Load(args []string) (Config, error) {
	cfg := FromEnv()
	// The flag default is blank so usage output never prints the secret.
	envSecret := cfg.SigningSecret

	fs := pflag.NewFlagSet("qrcore-server", pflag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address ("+EnvHTTPAddr+")")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address, empty disables ("+EnvGRPCAddr+")")
	fs.StringVar(&cfg.StoreURI, "store-uri", cfg.StoreURI, "record store URI ("+EnvStoreURI+")")
	fs.StringVar(&cfg.StoreDB, "store-db", cfg.StoreDB, "record store database name ("+EnvStoreDB+")")
	fs.StringVar(&cfg.PatternURL, "pattern-url", cfg.PatternURL, "pattern service base URL ("+EnvPatternURL+")")
	fs.StringVar(&cfg.SigningSecret, "signing-secret", "", "token signing secret; prefer "+EnvSigningSecret)
	timeout := fs.String("external-timeout", "", "timeout for pattern calls and record writes, e.g. 5s ("+EnvExternalTimeout+")")
	level := fs.String("log-level", "", "debug, info, warn or error ("+EnvLogLevel+")")
	rate := fs.String("rate-limit", "", "requests per minute per client on /qr/*, 0 disables ("+EnvRateLimit+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if !fs.Changed("signing-secret") {
		cfg.SigningSecret = envSecret
	}

	if fs.Changed("external-timeout") {
		cfg.setExternalTimeout(*timeout)
	}
	if fs.Changed("log-level") {
		cfg.setLogLevel(*level)
	}
	if fs.Changed("rate-limit") {
		cfg.setRateLimit(*rate)
	}

	cfg.HTTPAddr = normaliseAddr(cfg.HTTPAddr)
	cfg.GRPCAddr = normaliseAddr(cfg.GRPCAddr)
	cfg.StoreURI = strings.TrimSpace(cfg.StoreURI)
	cfg.StoreDB = strings.TrimSpace(cfg.StoreDB)
	cfg.PatternURL = strings.TrimSpace(cfg.PatternURL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing mandatory setting and every value that
// failed to parse.
func (c Config) Validate() error {
	var missing []string
	required := []struct {
		key string
		set bool
	}{
		{EnvHTTPAddr, c.HTTPAddr != ""},
		{EnvStoreURI, c.StoreURI != ""},
		{EnvStoreDB, c.StoreDB != ""},
		{EnvPatternURL, c.PatternURL != ""},
		{EnvSigningSecret, c.SigningSecret != ""},
		{EnvExternalTimeout, c.ExternalTimeout != 0 || c.invalid[EnvExternalTimeout] != ""},
	}
	for _, r := range required {
		if !r.set {
			missing = append(missing, r.key)
		}
	}

	invalid := make(map[string]string, len(c.invalid))
	for k, v := range c.invalid {
		invalid[k] = v
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	if len(invalid) == 0 {
		invalid = nil
	}
	return &ConfigError{Missing: missing, Invalid: invalid}
}

// LogValue keeps the signing secret out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("grpc_addr", c.GRPCAddr),
		slog.String("store_uri", store.RedactURI(c.StoreURI)),
		slog.String("store_db", c.StoreDB),
		slog.String("pattern_url", c.PatternURL),
		slog.Duration("external_timeout", c.ExternalTimeout),
		slog.String("log_level", c.LogLevel.String()),
		slog.Int("rate_limit_per_minute", c.RateLimitPerMinute),
	)
}

func (c *Config) setExternalTimeout(v string) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	switch {
	case err != nil:
		c.markInvalid(EnvExternalTimeout, "not a duration")
	case d <= 0:
		c.markInvalid(EnvExternalTimeout, "must be greater than zero")
	default:
		c.ExternalTimeout = d
		delete(c.invalid, EnvExternalTimeout)
	}
}

func (c *Config) setLogLevel(v string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		c.markInvalid(EnvLogLevel, "want debug, info, warn or error")
		return
	}
	c.LogLevel = lvl
	delete(c.invalid, EnvLogLevel)
}

func (c *Config) setRateLimit(v string) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		c.markInvalid(EnvRateLimit, "must be a non-negative integer")
		return
	}
	c.RateLimitPerMinute = n
	delete(c.invalid, EnvRateLimit)
}

func (c *Config) markInvalid(key, reason string) {
	if c.invalid == nil {
		c.invalid = make(map[string]string)
	}
	c.invalid[key] = reason
}

// normaliseAddr turns a bare port such as "8080" into ":8080".
func normaliseAddr(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}
