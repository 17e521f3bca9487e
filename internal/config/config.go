package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Access log formats.
const (
	AccessLogFormatCommon = "common"
	AccessLogFormatJSON   = "json"
)

const (
	// DefaultPort is used when no port, or an unusable one, is given.
	DefaultPort = 8000
	// DefaultGracefulShutdownTimeout bounds how long in-flight requests may
	// run after a shutdown signal.
	DefaultGracefulShutdownTimeout = 30 * time.Second
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server        *ServerConfig     `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Logging       *LoggingConfig    `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
	MimeTypes     map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
	MimeTypesPath *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty" yaml:"mime_types_path,omitempty"`

	// OriginalFilePath is the absolute path of the file the config was loaded
	// from, empty for configs built in code.
	OriginalFilePath string `json:"-" toml:"-" yaml:"-"`
}

// ServerConfig holds the served root and the listening port. It is read-only
// once validated.
type ServerConfig struct {
	Port                    *int      `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
	Directory               string    `json:"directory,omitempty" toml:"directory,omitempty" yaml:"directory,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"`
	EnableH2C               *bool     `json:"enable_h2c,omitempty" toml:"enable_h2c,omitempty" yaml:"enable_h2c,omitempty"`
}

// ListenAddress returns the host:port string the server binds to.
func (s *ServerConfig) ListenAddress() string {
	port := DefaultPort
	if s.Port != nil {
		port = *s.Port
	}
	return fmt.Sprintf(":%d", port)
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	ErrorTarget    *string  `json:"error_target,omitempty" toml:"error_target,omitempty" yaml:"error_target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// ConfigError describes a failure to load or validate configuration.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.FilePath != "" {
		b.WriteString(" ")
		b.WriteString(e.FilePath)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration is a time.Duration that unmarshals from strings such as "30s".
type Duration struct {
	time.Duration
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got yaml kind %d", node.Kind)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension (.json, .toml, .yaml, .yml) and
// auto-detected otherwise.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to resolve configuration file path", Err: err}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: absPath, Message: "configuration file is empty"}
	}

	cfg, err := decode(absPath, data)
	if err != nil {
		return nil, err
	}
	cfg.OriginalFilePath = absPath

	if err := cfg.applyDefaults(filepath.Dir(absPath)); err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "failed to apply defaults", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "invalid configuration", Err: err}
	}
	return cfg, nil
}

func decode(path string, data []byte) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse TOML config", Err: err}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse YAML config", Err: err}
		}
	default:
		jsonErr := decodeJSON(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		_, tomlErr := toml.Decode(string(data), cfg)
		if tomlErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		yamlErr := yaml.Unmarshal(data, cfg)
		if yamlErr == nil {
			return cfg, nil
		}
		return nil, &ConfigError{
			FilePath: path,
			Message:  "failed to auto-detect and parse config",
			Err:      fmt.Errorf("JSON error: %v; TOML error: %v; YAML error: %v", jsonErr, tomlErr, yamlErr),
		}
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Default returns a configuration with every default applied, serving the
// given directory on the given port. The directory is not validated; an
// empty or relative one is resolved against the working directory.
func Default(directory string, port int) (*Config, error) {
	cfg := &Config{Server: &ServerConfig{Port: &port, Directory: directory}}
	if err := cfg.applyDefaults(""); err != nil {
		return nil, &ConfigError{Message: "failed to apply defaults", Err: err}
	}
	return cfg, nil
}

// applyDefaults fills every unset field. Relative paths are resolved against
// baseDir, or the working directory when baseDir is empty.
func (c *Config) applyDefaults(baseDir string) error {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Port == nil {
		p := DefaultPort
		c.Server.Port = &p
	}
	if c.Server.GracefulShutdownTimeout == nil {
		c.Server.GracefulShutdownTimeout = &Duration{DefaultGracefulShutdownTimeout}
	}
	if c.Server.EnableH2C == nil {
		f := false
		c.Server.EnableH2C = &f
	}
	if c.Server.Directory == "" {
		if baseDir != "" {
			c.Server.Directory = baseDir
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to determine working directory: %w", err)
			}
			c.Server.Directory = wd
		}
	}
	dir, err := absFrom(baseDir, c.Server.Directory)
	if err != nil {
		return err
	}
	c.Server.Directory = dir

	if c.MimeTypesPath != nil && *c.MimeTypesPath != "" {
		p, err := absFrom(baseDir, *c.MimeTypesPath)
		if err != nil {
			return err
		}
		c.MimeTypesPath = &p
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = LogLevelInfo
	}
	if c.Logging.AccessLog == nil {
		c.Logging.AccessLog = &AccessLogConfig{}
	}
	al := c.Logging.AccessLog
	if al.Enabled == nil {
		t := true
		al.Enabled = &t
	}
	if al.Target == nil {
		s := "stdout"
		al.Target = &s
	}
	if al.ErrorTarget == nil {
		s := "stderr"
		al.ErrorTarget = &s
	}
	if al.Format == "" {
		al.Format = AccessLogFormatCommon
	}
	if c.Logging.ErrorLog == nil {
		c.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if c.Logging.ErrorLog.Target == nil {
		s := "stderr"
		c.Logging.ErrorLog.Target = &s
	}
	return nil
}

func absFrom(baseDir, p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	if baseDir != "" {
		return filepath.Join(baseDir, p), nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", p, err)
	}
	return abs, nil
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() error {
	if c.Server == nil {
		return errors.New("server section is missing")
	}
	if c.Server.Port == nil || *c.Server.Port < 0 || *c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if !filepath.IsAbs(c.Server.Directory) {
		return fmt.Errorf("server.directory must be absolute, got %q", c.Server.Directory)
	}
	fi, err := os.Stat(c.Server.Directory)
	if err != nil {
		return fmt.Errorf("server.directory %q: %w", c.Server.Directory, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("server.directory %q is not a directory", c.Server.Directory)
	}

	for ext, mimeType := range c.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("mime_types: extension %q must start with a '.'", ext)
		}
		if strings.TrimSpace(mimeType) == "" {
			return fmt.Errorf("mime_types: empty MIME type for extension %q", ext)
		}
	}

	if c.Logging == nil {
		return errors.New("logging section is missing")
	}
	switch c.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", c.Logging.LogLevel)
	}
	if al := c.Logging.AccessLog; al != nil {
		if al.Format != AccessLogFormatCommon && al.Format != AccessLogFormatJSON {
			return fmt.Errorf("logging.access_log.format %q must be %q or %q", al.Format, AccessLogFormatCommon, AccessLogFormatJSON)
		}
		if err := validateTarget("logging.access_log.target", al.Target); err != nil {
			return err
		}
		if err := validateTarget("logging.access_log.error_target", al.ErrorTarget); err != nil {
			return err
		}
	}
	if el := c.Logging.ErrorLog; el != nil {
		if err := validateTarget("logging.error_log.target", el.Target); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(field string, target *string) error {
	if target == nil {
		return nil
	}
	if *target == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if IsFilePath(*target) && !filepath.IsAbs(*target) {
		return fmt.Errorf("%s %q must be stdout, stderr or an absolute path", field, *target)
	}
	return nil
}
