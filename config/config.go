// Package config holds the sieveforge configuration, loaded from a TOML file
// and overridden from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/migadu/sieveforge/helpers"
)

// Environment variables that override file settings. Secrets are expected
// to come from here rather than from the file.
const (
	EnvIMAPPassword        = "SIEVEFORGE_IMAP_PASSWORD"
	EnvManageSievePassword = "SIEVEFORGE_MANAGESIEVE_PASSWORD"
	EnvS3SecretKey         = "SIEVEFORGE_S3_SECRET_KEY"
	EnvLogLevel            = "SIEVEFORGE_LOG_LEVEL"
	EnvHTTPAPIKey          = "SIEVEFORGE_HTTP_API_KEY"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output    string `toml:"output"`                                         // "stderr", "stdout", "syslog", or a file path
	Format    string `toml:"format" validate:"omitempty,oneof=json console"` // "json" or "console"
	Level     string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	SyslogTag string `toml:"syslog_tag"`
}

// GeneratorConfig controls filter generation from categories.
type GeneratorConfig struct {
	MinConfidence float64  `toml:"min_confidence" validate:"gte=0,lte=1"`
	FilterName    string   `toml:"filter_name" validate:"required"`
	Extensions    []string `toml:"extensions"` // go-sieve extensions enabled for syntax checks and dry runs
}

// DetectorConfig controls pattern detection over a corpus.
type DetectorConfig struct {
	MinFrequency  int     `toml:"min_frequency" validate:"gte=1"`
	MinConfidence float64 `toml:"min_confidence" validate:"gte=0,lte=1"`
	MaxExamples   int     `toml:"max_examples" validate:"gte=0"`
}

// IMAPConfig holds the mailbox the analyze workflow reads from.
type IMAPConfig struct {
	Addr               string   `toml:"addr" validate:"omitempty,hostname_port"`
	Username           string   `toml:"username" validate:"required_with=Addr"`
	Password           string   `toml:"password"`
	TLS                bool     `toml:"tls"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	Timeout            string   `toml:"timeout"`
	MaxEmails          int      `toml:"max_emails" validate:"gte=0"`
	Since              string   `toml:"since"` // only fetch mail newer than this, e.g. "90d"
	ExcludeFolders     []string `toml:"exclude_folders"`
}

func (c *IMAPConfig) GetTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.Timeout)
}

// GetSince returns the lookback window, or zero when unset.
func (c *IMAPConfig) GetSince() (time.Duration, error) {
	if c.Since == "" {
		return 0, nil
	}
	return helpers.ParseDuration(c.Since)
}

// ManageSieveConfig holds the server generated scripts are uploaded to.
type ManageSieveConfig struct {
	Addr               string `toml:"addr" validate:"omitempty,hostname_port"`
	Username           string `toml:"username" validate:"required_with=Addr"`
	Password           string `toml:"password"`
	TLS                bool   `toml:"tls"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	Timeout            string `toml:"timeout"`
	ScriptName         string `toml:"script_name" validate:"required"`
	Activate           bool   `toml:"activate"`
}

func (c *ManageSieveConfig) GetTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.Timeout)
}

// S3Config holds S3 configuration.
type S3Config struct {
	Endpoint   string `toml:"endpoint" validate:"required"`
	DisableTLS bool   `toml:"disable_tls"`
	AccessKey  string `toml:"access_key" validate:"required"`
	SecretKey  string `toml:"secret_key" validate:"required"`
	Bucket     string `toml:"bucket" validate:"required"`
	Prefix     string `toml:"prefix"`
	Debug      bool   `toml:"debug"` // Enable detailed S3 request/response tracing
}

// StorageConfig selects where generated scripts are kept.
type StorageConfig struct {
	Backend string    `toml:"backend" validate:"oneof=file s3"`
	Path    string    `toml:"path" validate:"required_if=Backend file"`
	S3      *S3Config `toml:"s3" validate:"required_if=Backend s3"`
}

// RetryConfig is the backoff applied to network adapters.
type RetryConfig struct {
	MaxRetries      int     `toml:"max_retries" validate:"gte=0"`
	InitialInterval string  `toml:"initial_interval"`
	MaxInterval     string  `toml:"max_interval"`
	Multiplier      float64 `toml:"multiplier" validate:"gte=1"`
}

func (c *RetryConfig) GetInitialInterval() (time.Duration, error) {
	if c.InitialInterval == "" {
		return time.Second, nil
	}
	return helpers.ParseDuration(c.InitialInterval)
}

func (c *RetryConfig) GetMaxInterval() (time.Duration, error) {
	if c.MaxInterval == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.MaxInterval)
}

// HTTPAPIConfig holds HTTP API server configuration
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr" validate:"required_if=Start true"`
	APIKey       string   `toml:"api_key" validate:"required_if=Start true"`
	AllowedHosts []string `toml:"allowed_hosts"` // IPs or CIDR blocks; empty allows all
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file" validate:"required_if=TLS true"`
	TLSKeyFile   string   `toml:"tls_key_file" validate:"required_if=TLS true"`
	MaxBodyBytes int64    `toml:"max_body_bytes" validate:"gte=0"`
	ReadTimeout  string   `toml:"read_timeout"`
	WriteTimeout string   `toml:"write_timeout"`
}

func (c *HTTPAPIConfig) GetReadTimeout() (time.Duration, error) {
	if c.ReadTimeout == "" {
		return 15 * time.Second, nil
	}
	return helpers.ParseDuration(c.ReadTimeout)
}

func (c *HTTPAPIConfig) GetWriteTimeout() (time.Duration, error) {
	if c.WriteTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.WriteTimeout)
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" validate:"required_if=Enabled true"`
	Path    string `toml:"path"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Generator   GeneratorConfig   `toml:"generator"`
	Detector    DetectorConfig    `toml:"detector"`
	IMAP        IMAPConfig        `toml:"imap"`
	ManageSieve ManageSieveConfig `toml:"managesieve"`
	Storage     StorageConfig     `toml:"storage"`
	Retry       RetryConfig       `toml:"retry"`
	HTTPAPI     HTTPAPIConfig     `toml:"http_api"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Generator: GeneratorConfig{
			MinConfidence: 0.5,
			FilterName:    "AI-Generated Email Filters",
		},
		Detector: DetectorConfig{
			MinFrequency:  3,
			MinConfidence: 0.5,
			MaxExamples:   5,
		},
		IMAP: IMAPConfig{
			TLS:            true,
			Timeout:        "30s",
			MaxEmails:      100,
			ExcludeFolders: []string{"Trash", "Junk", "Spam", "Drafts"},
		},
		ManageSieve: ManageSieveConfig{
			TLS:        true,
			Timeout:    "30s",
			ScriptName: "sieveforge",
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    "./filters",
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: "1s",
			MaxInterval:     "30s",
			Multiplier:      2.0,
		},
		HTTPAPI: HTTPAPIConfig{
			Addr:         "127.0.0.1:8080",
			MaxBodyBytes: 10 << 20,
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
			Path: "/metrics",
		},
	}
}

var validate = validator.New()

// Validate checks struct tags and every duration string.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := []struct {
		name string
		get  func() (time.Duration, error)
	}{
		{"imap.timeout", c.IMAP.GetTimeout},
		{"imap.since", c.IMAP.GetSince},
		{"managesieve.timeout", c.ManageSieve.GetTimeout},
		{"retry.initial_interval", c.Retry.GetInitialInterval},
		{"retry.max_interval", c.Retry.GetMaxInterval},
		{"http_api.read_timeout", c.HTTPAPI.GetReadTimeout},
		{"http_api.write_timeout", c.HTTPAPI.GetWriteTimeout},
	}
	for _, d := range durations {
		if _, err := d.get(); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", d.name, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and the log level from the environment.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.IMAP.Password, EnvIMAPPassword)
	set(&c.ManageSieve.Password, EnvManageSievePassword)
	if c.Storage.S3 != nil {
		set(&c.Storage.S3.SecretKey, EnvS3SecretKey)
	}
	set(&c.Logging.Level, EnvLogLevel)
	set(&c.HTTPAPI.APIKey, EnvHTTPAPIKey)
}

// LoadConfigFromFile loads configuration from a TOML file on top of cfg and
// trims whitespace from all string fields. Duplicate and unknown keys are
// logged and ignored; every other syntax error fails with a hint.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}
		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")

		metadata, err = toml.Decode(removeDuplicateKeysFromTOML(string(content)), cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// Load returns the defaults overlaid with the file at path (when path is
// not empty) and the environment, validated.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		if err := LoadConfigFromFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML. Secrets are masked unless reveal is set.
func (c Config) Encode(reveal bool) (string, error) {
	if !reveal {
		c.IMAP.Password = helpers.MaskSecret(c.IMAP.Password)
		c.ManageSieve.Password = helpers.MaskSecret(c.ManageSieve.Password)
		if c.Storage.S3 != nil {
			s3 := *c.Storage.S3
			s3.SecretKey = helpers.MaskSecret(s3.SecretKey)
			c.Storage.S3 = &s3
		}
		c.HTTPAPI.APIKey = helpers.MaskSecret(c.HTTPAPI.APIKey)
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", err
	}
	return b.String(), nil
}

// removeDuplicateKeysFromTOML comments out every repeated key in a table,
// keeping the first occurrence. Each [[array]] element starts fresh.
func removeDuplicateKeysFromTOML(content string) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]int)
	section := ""

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			continue
		case strings.HasPrefix(trimmed, "[[") && strings.HasSuffix(trimmed, "]]"):
			section = strings.TrimSpace(trimmed[2 : len(trimmed)-2])
			for k := range seen {
				if strings.HasPrefix(k, section+".") {
					delete(seen, k)
				}
			}
			continue
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			continue
		}

		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		full := strings.TrimSpace(key)
		if section != "" {
			full = section + "." + full
		}
		if first, dup := seen[full]; dup {
			log.Printf("WARNING: Duplicate key '%s' found at line %d (first occurrence at line %d). Ignoring duplicate.",
				full, i+1, first+1)
			lines[i] = "# DUPLICATE IGNORED: " + line
			continue
		}
		seen[full] = i
	}
	return strings.Join(lines, "\n")
}

// enhanceConfigError adds a hint for the TOML mistakes people make most.
func enhanceConfigError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, `expected value but found "f"`),
		strings.Contains(msg, `expected value but found "t"`):
		return fmt.Errorf("%w\n\nHINT: In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	case strings.Contains(msg, "expected"), strings.Contains(msg, "invalid"):
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check that strings are quoted, brackets are balanced and sections use [section] format", err)
	}
	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
