// Package config loads the kopernicus.yaml file that wires a research agent:
// reasoning backend, capability servers, checkpoint store, loop policy and logging.
//
// Values are read in three layers: defaults, the YAML file, then KOPERNICUS_*
// environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/kopernicus/pkg/adapters/file"
	"github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/aretw0/kopernicus/pkg/adapters/openai"
	"github.com/aretw0/kopernicus/pkg/adapters/redis"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "kopernicus.yaml"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Environment overrides.
const (
	EnvAPIKey        = "KOPERNICUS_API_KEY"
	EnvBaseURL       = "KOPERNICUS_BASE_URL"
	EnvModel         = "KOPERNICUS_MODEL"
	EnvStore         = "KOPERNICUS_STORE"
	EnvStorePath     = "KOPERNICUS_STORE_PATH"
	EnvRedisAddress  = "KOPERNICUS_REDIS_ADDR"
	EnvRedisPassword = "KOPERNICUS_REDIS_PASSWORD"
	EnvLogLevel      = "KOPERNICUS_LOG_LEVEL"
	EnvLogFormat     = "KOPERNICUS_LOG_FORMAT"
	EnvMaxIterations = "KOPERNICUS_MAX_ITERATIONS"
	EnvEncryptionKey = "KOPERNICUS_ENCRYPTION_KEY"
	// EnvOpenAIKey is honoured when EnvAPIKey is unset.
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// Config is the root of kopernicus.yaml.
type Config struct {
	Log           LogConfig          `mapstructure:"log"`
	Reasoning     openai.Config      `mapstructure:"reasoning"`
	Servers       []mcp.ServerConfig `mapstructure:"mcp_servers"`
	ToolsFile     string             `mapstructure:"tools_file"`
	Tools         ToolsConfig        `mapstructure:"tools"`
	Store         StoreConfig        `mapstructure:"store"`
	Policy        PolicyConfig       `mapstructure:"policy"`
	MaxIterations int                `mapstructure:"max_iterations"`
	Privacy       PrivacyConfig      `mapstructure:"privacy"`

	// dir is the directory of the loaded file; relative paths resolve against it.
	dir string
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ToolsConfig tunes capability invocation.
type ToolsConfig struct {
	ResolutionTool    string        `mapstructure:"resolution_tool"`
	NormalizationTool string        `mapstructure:"normalization_tool"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	// GracePeriod is how long a process tool may take to exit after an interrupt.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
	// Lock serialises turns across processes. Requires the redis driver.
	Lock    bool          `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PolicyConfig mirrors kopernicus.Policy. Zero values keep the defaults.
type PolicyConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	MinIteration     int `mapstructure:"min_iteration"`
	StewardEvery     int `mapstructure:"steward_every"`
	EvidenceCap      int `mapstructure:"evidence_cap"`
}

// PrivacyConfig configures the checkpoint middlewares.
type PrivacyConfig struct {
	// RedactKeys are regular expressions matched against tool argument names.
	RedactKeys []string `mapstructure:"redact_keys"`
	// EncryptionKey is a base64 AES-256 key. Empty disables encryption.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Reasoning: openai.Config{
			Model:  openai.DefaultModel,
			Format: openai.FormatJSONSchema,
		},
		Store: StoreConfig{
			Driver:  StoreFile,
			Path:    file.DefaultPath,
			LockTTL: 2 * time.Minute,
			Redis:   RedisConfig{Address: "localhost:6379", Prefix: redis.DefaultPrefix},
		},
		MaxIterations: domain.DefaultMaxIterations,
	}
}

// Load reads path, or DefaultFile when path is empty. A missing default file is
// not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.dir = filepath.Dir(path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg.dir = "."
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			expandEnvHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           c,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// expandEnvHook expands ${VAR} references in string values, so secrets can stay out of the file.
func expandEnvHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || !strings.Contains(s, "${") {
		return data, nil
	}
	return os.ExpandEnv(s), nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.Reasoning.APIKey, EnvAPIKey, EnvOpenAIKey)
	setString(&c.Reasoning.BaseURL, EnvBaseURL)
	setString(&c.Reasoning.Model, EnvModel)
	setString(&c.Store.Driver, EnvStore)
	setString(&c.Store.Path, EnvStorePath)
	setString(&c.Store.Redis.Address, EnvRedisAddress)
	setString(&c.Store.Redis.Password, EnvRedisPassword)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)
	setString(&c.Privacy.EncryptionKey, EnvEncryptionKey)

	if v := os.Getenv(EnvMaxIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxIterations, err)
		}
		c.MaxIterations = n
	}
	return nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Lock && c.Store.Driver != StoreRedis {
		errs = append(errs, errors.New("store.lock requires the redis driver"))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	switch c.Reasoning.Format {
	case "", openai.FormatJSONSchema, openai.FormatJSONObject:
	default:
		errs = append(errs, fmt.Errorf("reasoning.format: unknown format %q", c.Reasoning.Format))
	}
	for i, s := range c.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: name is required", i))
		}
		if s.Command == "" && s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: command or url is required", i))
		}
	}
	if c.Privacy.EncryptionKey != "" {
		if _, _, err := c.EncryptionKeys(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EncryptionKeys decodes the active and fallback keys.
func (c *Config) EncryptionKeys() ([]byte, [][]byte, error) {
	active, err := decodeKey(c.Privacy.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("privacy.encryption_key: %w", err)
	}
	fallback := make([][]byte, 0, len(c.Privacy.FallbackKeys))
	for i, k := range c.Privacy.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("privacy.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Resolve makes a relative path relative to the config file's directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
