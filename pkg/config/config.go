// Package config handles application configuration from an optional YAML
// file and environment variables. Environment variables win over the file,
// and the file wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// Authentication for the local API
	APIPassword string `yaml:"api_password"`

	// Portal account and endpoints
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PortalBaseURL   string `yaml:"portal_base_url"`
	IAAABaseURL     string `yaml:"iaaa_base_url"`
	VideoAPIBaseURL string `yaml:"video_api_base_url"`
	UserAgent       string `yaml:"user_agent"`

	// Transport
	HTTPTimeout       time.Duration    `yaml:"http_timeout"`
	HTTPRetries       int              `yaml:"http_retries"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	GlobalProxies     []string         `yaml:"global_proxies"`
	TransportRoutes   []TransportRoute `yaml:"transport_routes"`
	UTLSDomains       []string         `yaml:"utls_domains"`

	// Cache
	CacheDir    string        `yaml:"cache_dir"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`

	// Crawl
	CrawlBatchSize      int           `yaml:"crawl_batch_size"`
	CrawlMaxDepth       int           `yaml:"crawl_max_depth"`
	CrawlMaxRetries     int           `yaml:"crawl_max_retries"`
	CrawlRetryBaseDelay time.Duration `yaml:"crawl_retry_base_delay"`
	CrawlRetryMaxDelay  time.Duration `yaml:"crawl_retry_max_delay"`
	CrawlStrictDepth    bool          `yaml:"crawl_strict_depth"`
	CrawlDedup          bool          `yaml:"crawl_dedup"`

	// Downloads
	DownloadDir     string `yaml:"download_dir"`
	DownloadWorkers int    `yaml:"download_workers"`
	FFmpegPath      string `yaml:"ffmpeg_path"`
	RemuxToMP4      bool   `yaml:"remux_to_mp4"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string `yaml:"url"`
	Proxy      string `yaml:"proxy"`
	DisableSSL bool   `yaml:"disable_ssl"`
	Direct     bool   `yaml:"direct"` // If true, bypass global proxy and connect directly
}

// DefaultUserAgent is sent on every portal request.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cacheDir := "cache"
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = dir + string(os.PathSeparator) + "course-portal"
	}
	return &Config{
		Port:                7860,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        10 * time.Minute,
		IdleTimeout:         60 * time.Second,
		PortalBaseURL:       "https://course.pku.edu.cn",
		IAAABaseURL:         "https://iaaa.pku.edu.cn",
		VideoAPIBaseURL:     "https://yjapise.pku.edu.cn",
		UserAgent:           DefaultUserAgent,
		HTTPTimeout:         30 * time.Second,
		HTTPRetries:         2,
		RequestsPerSecond:   10,
		CacheDir:            cacheDir,
		CacheTTL:            time.Hour,
		ArtifactTTL:         24 * time.Hour,
		CrawlBatchSize:      8,
		CrawlMaxDepth:       20,
		CrawlMaxRetries:     5,
		CrawlRetryBaseDelay: 500 * time.Millisecond,
		CrawlRetryMaxDelay:  30 * time.Second,
		CrawlStrictDepth:    true,
		CrawlDedup:          true,
		DownloadDir:         "downloads",
		DownloadWorkers:     4,
		FFmpegPath:          "ffmpeg",
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set) and environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit config file path; an empty path skips
// the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.APIPassword = getEnvString("API_PASSWORD", cfg.APIPassword)

	cfg.Username = getEnvString("PORTAL_USERNAME", cfg.Username)
	cfg.Password = getEnvString("PORTAL_PASSWORD", cfg.Password)
	cfg.PortalBaseURL = strings.TrimRight(getEnvString("PORTAL_BASE_URL", cfg.PortalBaseURL), "/")
	cfg.IAAABaseURL = strings.TrimRight(getEnvString("IAAA_BASE_URL", cfg.IAAABaseURL), "/")
	cfg.VideoAPIBaseURL = strings.TrimRight(getEnvString("VIDEO_API_BASE_URL", cfg.VideoAPIBaseURL), "/")
	cfg.UserAgent = getEnvString("USER_AGENT", cfg.UserAgent)

	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.HTTPRetries = getEnvInt("HTTP_RETRIES", cfg.HTTPRetries)
	cfg.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", cfg.RequestsPerSecond)
	cfg.GlobalProxies = getEnvStringSlice("GLOBAL_PROXIES", cfg.GlobalProxies)
	if routes := parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES")); routes != nil {
		cfg.TransportRoutes = routes
	}
	cfg.UTLSDomains = getEnvStringSlice("UTLS_DOMAINS", cfg.UTLSDomains)

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	cfg.CacheDir = getEnvString("CACHE_DIR", cfg.CacheDir)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.ArtifactTTL = getEnvDuration("ARTIFACT_TTL", cfg.ArtifactTTL)

	cfg.CrawlBatchSize = getEnvInt("CRAWL_BATCH_SIZE", cfg.CrawlBatchSize)
	cfg.CrawlMaxDepth = getEnvInt("CRAWL_MAX_DEPTH", cfg.CrawlMaxDepth)
	cfg.CrawlMaxRetries = getEnvInt("CRAWL_MAX_RETRIES", cfg.CrawlMaxRetries)
	cfg.CrawlRetryBaseDelay = getEnvDuration("CRAWL_RETRY_BASE_DELAY", cfg.CrawlRetryBaseDelay)
	cfg.CrawlRetryMaxDelay = getEnvDuration("CRAWL_RETRY_MAX_DELAY", cfg.CrawlRetryMaxDelay)
	cfg.CrawlStrictDepth = getEnvBool("CRAWL_STRICT_DEPTH", cfg.CrawlStrictDepth)
	cfg.CrawlDedup = getEnvBool("CRAWL_DEDUP", cfg.CrawlDedup)

	cfg.DownloadDir = getEnvString("DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.DownloadWorkers = getEnvInt("DOWNLOAD_WORKERS", cfg.DownloadWorkers)
	cfg.FFmpegPath = getEnvString("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.RemuxToMP4 = getEnvBool("REMUX_TO_MP4", cfg.RemuxToMP4)

	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("LOG_JSON", cfg.LogJSON)
}

// Validate reports settings that would make the crawler or server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.CrawlBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("crawl_batch_size must be positive, got %d", c.CrawlBatchSize))
	}
	if c.CrawlMaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("crawl_max_depth must be positive, got %d", c.CrawlMaxDepth))
	}
	if c.CrawlMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("crawl_max_retries must not be negative, got %d", c.CrawlMaxRetries))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.PortalBaseURL == "" {
		errs = append(errs, errors.New("portal_base_url is required"))
	}
	return errors.Join(errs...)
}

// HasCredentials reports whether a portal account is configured.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	// Split by "}, {" pattern
	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
