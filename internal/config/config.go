package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// UpstreamBaseURL is the mnml API root every tool endpoint is appended to.
	UpstreamBaseURL = "https://api.mnmlai.dev/v1"

	DefaultMongoDB           = "DesignIQ"
	DefaultHistoryCollection = "ImageHistory"

	defaultUpstreamTimeout = 120 * time.Second
	defaultDownloadTimeout = 15 * time.Second
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
	Debug   bool

	// APIKey is the bearer token sent to the upstream provider. An empty key
	// does not stop the server; upstream routes fail with a configuration error.
	APIKey          string
	UpstreamBaseURL string
	UpstreamTimeout time.Duration
	ToolsFile       string

	MongoURI          string
	MongoDB           string
	HistoryCollection string
	DownloadTimeout   time.Duration
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
// Malformed numeric or duration values fall back to the defaults; Validate
// reports values that parse but make no sense.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:              envOrDefault("MNML_GATEWAY_HOST", "127.0.0.1"),
		Port:              envInt("MNML_GATEWAY_PORT", 8000),
		Verbose:           envBool("MNML_GATEWAY_VERBOSE"),
		Debug:             envBool("MNML_GATEWAY_DEBUG"),
		APIKey:            strings.TrimSpace(os.Getenv("MNML_API_KEY")),
		UpstreamBaseURL:   UpstreamBaseURL,
		UpstreamTimeout:   envDuration("MNML_UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		ToolsFile:         strings.TrimSpace(os.Getenv("MNML_TOOLS_FILE")),
		MongoURI:          strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDB:           envOrDefault("MONGO_DB", DefaultMongoDB),
		HistoryCollection: DefaultHistoryCollection,
		DownloadTimeout:   envDuration("HISTORY_DOWNLOAD_TIMEOUT", defaultDownloadTimeout),
	}
}

// Validate checks the values that cannot be fixed up with a default.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("history download timeout must be positive")
	}
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	if c.MongoURI != "" && strings.TrimSpace(c.MongoDB) == "" {
		return fmt.Errorf("MONGO_DB must not be empty when MONGO_URI is set")
	}
	return nil
}

// HasAPIKey reports whether an upstream credential is configured.
func (c *ServerConfig) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// envDuration accepts Go duration strings ("90s", "2m") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
