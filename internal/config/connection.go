package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kurtosis-tech/stacktrace"
)

// Default tuning values, applied when the config file omits a field. These
// are deliberately conservative: the worst-case render stall on a cold cache
// is DefaultRequestTimeout, including every retry.
const (
	DefaultRequestTimeout = 3 * time.Second
	DefaultMaxRetries     = 2
	DefaultBackoffBase    = 200 * time.Millisecond
	DefaultPoolSize       = 4
	DefaultRateLimit      = 60
	DefaultStatusTTL      = 30 * time.Second
)

// ConnectionConfig holds the resolved parameters for contacting the remote
// coordination service. Loaded once per invocation from the project root and
// never mutated after load. Duration fields are stored as strings (e.g. "3s",
// "200ms") and read through the Get* accessors.
type ConnectionConfig struct {
	EndpointURL        string `yaml:"endpointUrl,omitempty"`
	RequestTimeout     string `yaml:"requestTimeout,omitempty"`
	MaxRetries         *int   `yaml:"maxRetries,omitempty"`
	BackoffBase        string `yaml:"backoffBase,omitempty"`
	PoolSize           int    `yaml:"poolSize,omitempty"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute,omitempty"`
	StatusTTL          string `yaml:"statusTtl,omitempty"`
	CredentialFile     string `yaml:"credentialFile,omitempty"`
}

// Configured reports whether a remote endpoint is set. An unconfigured
// connection is a distinct, reportable state rather than an error.
func (c *ConnectionConfig) Configured() bool {
	return c != nil && c.EndpointURL != ""
}

// GetRequestTimeout returns the end-to-end deadline for one status fetch,
// including all retries.
func (c *ConnectionConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, DefaultRequestTimeout)
}

// GetMaxRetries returns how many additional attempts follow the first one.
func (c *ConnectionConfig) GetMaxRetries() int {
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// GetBackoffBase returns the seed duration for exponential backoff.
func (c *ConnectionConfig) GetBackoffBase() time.Duration {
	return parseDurationOr(c.BackoffBase, DefaultBackoffBase)
}

// GetPoolSize returns the HTTP transport connection pool size.
func (c *ConnectionConfig) GetPoolSize() int {
	if c.PoolSize <= 0 {
		return DefaultPoolSize
	}
	return c.PoolSize
}

// GetRateLimitPerMinute returns the advisory request budget per minute.
func (c *ConnectionConfig) GetRateLimitPerMinute() int {
	if c.RateLimitPerMinute <= 0 {
		return DefaultRateLimit
	}
	return c.RateLimitPerMinute
}

// GetStatusTTL returns how long a cached status result stays valid.
func (c *ConnectionConfig) GetStatusTTL() time.Duration {
	return parseDurationOr(c.StatusTTL, DefaultStatusTTL)
}

// GetCredentialFilepath returns the absolute path of the credential file,
// resolving a relative credentialFile value against the project root.
func (c *ConnectionConfig) GetCredentialFilepath(projectRootPath string) string {
	credentialFile := c.CredentialFile
	if credentialFile == "" {
		credentialFile = DefaultCredentialFilename
	}
	if filepath.IsAbs(credentialFile) {
		return credentialFile
	}
	return filepath.Join(projectRootPath, credentialFile)
}

// GetHealthURL returns the URL of the remote health endpoint.
func (c *ConnectionConfig) GetHealthURL() string {
	return strings.TrimSuffix(c.EndpointURL, "/") + "/health"
}

// GetTokenRefreshURL returns the URL of the remote token refresh endpoint.
func (c *ConnectionConfig) GetTokenRefreshURL() string {
	return strings.TrimSuffix(c.EndpointURL, "/") + "/auth/refresh"
}

// LoadConnectionConfig reads the connection config from the project root,
// checking beacon.yml then .beacon.yml. A missing file yields an unconfigured
// (but valid) config; a present-but-malformed file is an error the caller
// maps to the unconfigured classification.
func LoadConnectionConfig(projectRootPath string) (*ConnectionConfig, error) {
	for _, filename := range []string{ConfigFilename, HiddenConfigFilename} {
		configFilepath := filepath.Join(projectRootPath, filename)
		data, err := os.ReadFile(configFilepath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, stacktrace.Propagate(err, "failed to read config file '%s'", configFilepath)
		}

		cfg := &ConnectionConfig{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, stacktrace.Propagate(err, "failed to parse config file '%s'", configFilepath)
		}
		if err := validate(cfg); err != nil {
			return nil, stacktrace.Propagate(err, "invalid config file '%s'", configFilepath)
		}
		return cfg, nil
	}

	// No config file present at the root; explicit unconfigured state.
	return &ConnectionConfig{}, nil
}

func validate(cfg *ConnectionConfig) error {
	if cfg.EndpointURL != "" {
		parsed, err := url.Parse(cfg.EndpointURL)
		if err != nil {
			return stacktrace.Propagate(err, "endpointUrl is not a valid URL")
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return stacktrace.NewError("endpointUrl must use http or https, got '%s'", parsed.Scheme)
		}
	}
	for fieldName, value := range map[string]string{
		"requestTimeout": cfg.RequestTimeout,
		"backoffBase":    cfg.BackoffBase,
		"statusTtl":      cfg.StatusTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return stacktrace.Propagate(err, "%s is not a valid duration", fieldName)
		}
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
