package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the format from a file name. Anything other than .toml is
// treated as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists the LLM provider names shipped with copyedit.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data), FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a config in the given format from r, applies
// defaults and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied and no provider
// configured.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(60 * time.Second)
	}
	if cfg.Pipeline.MaxPasses == 0 {
		cfg.Pipeline.MaxPasses = 3
	}
	if cfg.Pipeline.MaxInputChars == 0 {
		cfg.Pipeline.MaxInputChars = 4000
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(time.Hour)
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "copyedit"
	}
}

// ErrInvalid is wrapped by every error returned from [Validate].
var ErrInvalid = errors.New("config: invalid")

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must not be negative", cfg.Server.RequestTimeout.Std()))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; only rules mode will be available")
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		}
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	// Pipeline
	if cfg.Pipeline.MaxPasses < 0 || cfg.Pipeline.MaxPasses > 10 {
		errs = append(errs, fmt.Errorf("pipeline.max_passes %d is out of range [1, 10]", cfg.Pipeline.MaxPasses))
	}
	if cfg.Pipeline.MaxInputChars < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_input_chars %d must not be negative", cfg.Pipeline.MaxInputChars))
	}
	if t := cfg.Pipeline.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", *t))
	}
	for from, to := range cfg.Pipeline.ExtraTypos {
		if strings.TrimSpace(from) == "" || strings.ContainsAny(from, " \t\n") {
			errs = append(errs, fmt.Errorf("pipeline.extra_typos key %q must be a single word", from))
		}
		if strings.TrimSpace(to) == "" {
			errs = append(errs, fmt.Errorf("pipeline.extra_typos[%q] has an empty correction", from))
		}
	}

	// Cache
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, postgres, none", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == CachePostgres && cfg.Cache.PostgresDSN == "" {
		errs = append(errs, errors.New("cache.postgres_dsn is required when cache.backend is postgres"))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL.Std()))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}

	// Rate limit
	if cfg.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute %.2f must not be negative", cfg.RateLimit.RequestsPerMinute))
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst %d must not be negative", cfg.RateLimit.Burst))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// ResolveAPIKey returns the API key for e, reading APIKeyEnv when APIKey is
// empty.
func (e ProviderEntry) ResolveAPIKey() string {
	if e.APIKey != "" || e.APIKeyEnv == "" {
		return e.APIKey
	}
	return os.Getenv(e.APIKeyEnv)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
