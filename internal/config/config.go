package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nholik/servo/internal/check"
	"github.com/xhit/go-str2duration/v2"
)

const (
	envConfigFile      = "SERVO_CONFIG_FILE"
	envLogLevel        = "SERVO_LOG_LEVEL"
	envCheckInterval   = "SERVO_CHECK_INTERVAL"
	envHaltOn          = "SERVO_HALT_ON"
	envCheckName       = "SERVO_CHECK_NAME"
	envCheckID         = "SERVO_CHECK_ID"
	envCheckTags       = "SERVO_CHECK_TAGS"
	envStatePath       = "SERVO_STATE_PATH"
	envHealthPort      = "SERVO_HEALTH_PORT"
	envMetricsPort     = "SERVO_METRICS_PORT"
	envSlackWebhookURL = "SERVO_SLACK_WEBHOOK_URL"
	envWebhookURL      = "SERVO_WEBHOOK_URL"
	envWebhookTemplate = "SERVO_WEBHOOK_TEMPLATE"
	envDryRun          = "SERVO_DRY_RUN"
	envDNSServer       = "SERVO_DNS_SERVER"
)

const (
	defaultLogLevel      = "info"
	defaultCheckInterval = 60 * time.Second
	defaultHaltOn        = check.HaltOnRequirement
	defaultHealthPort    = 8080
	defaultMetricsPort   = 9090
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	ConfigFile      string
	LogLevel        string
	CheckInterval   time.Duration
	HaltOn          check.HaltPolicy
	CheckName       string
	CheckID         string
	CheckTags       string
	// StatePath is empty when results are only kept in memory.
	StatePath       string
	HealthPort      int
	MetricsPort     int
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool
	DNSServer       string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:      defaultLogLevel,
		CheckInterval: defaultCheckInterval,
		HaltOn:        defaultHaltOn,
		HealthPort:    defaultHealthPort,
		MetricsPort:   defaultMetricsPort,
	}

	if value, ok := lookupTrimmed(envConfigFile); ok {
		cfg.ConfigFile = value
	}
	if cfg.ConfigFile == "" {
		return Config{}, errors.New("SERVO_CONFIG_FILE is required")
	}

	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envCheckInterval); ok {
		interval, err := str2duration.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envCheckInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envCheckInterval)
		}
		cfg.CheckInterval = interval
	}

	if value, ok := lookupTrimmed(envHaltOn); ok {
		policy, err := check.ParseHaltPolicy(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envHaltOn, err)
		}
		cfg.HaltOn = policy
	}

	if value, ok := lookupTrimmed(envCheckName); ok {
		cfg.CheckName = value
	}
	if value, ok := lookupTrimmed(envCheckID); ok {
		cfg.CheckID = value
	}
	if value, ok := lookupTrimmed(envCheckTags); ok {
		cfg.CheckTags = value
	}
	if _, err := cfg.Filter(); err != nil {
		return Config{}, fmt.Errorf("invalid check filter: %w", err)
	}

	if value, ok := lookupTrimmed(envStatePath); ok {
		cfg.StatePath = value
	}

	var err error
	if cfg.HealthPort, err = lookupPort(envHealthPort, cfg.HealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = lookupPort(envMetricsPort, cfg.MetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok && value != "" {
		if err := validateHTTPURL(value, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envWebhookURL); ok && value != "" {
		if err := validateHTTPURL(value, envWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.WebhookURL = value
	}

	if value, ok := os.LookupEnv(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}

	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	if value, ok := lookupTrimmed(envDNSServer); ok && value != "" {
		if err := validateHostPort(value, envDNSServer); err != nil {
			return Config{}, err
		}
		cfg.DNSServer = value
	}

	return cfg, nil
}

// Filter returns the check filter described by the SERVO_CHECK_* variables.
func (c Config) Filter() (check.Filter, error) {
	return check.ParseFilter(c.CheckName, c.CheckID, c.CheckTags)
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func lookupPort(key string, fallback int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s: port must be between 0 and 65535", key)
	}
	return port, nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}

func validateHTTPURL(value, name string) error {
	if err := validateURL(value, name); err != nil {
		return err
	}
	parsed, _ := url.Parse(value)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	return nil
}

func validateHostPort(value, name string) error {
	host := value
	if h, port, err := net.SplitHostPort(value); err == nil {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid %s: bad port %q", name, port)
		}
		host = h
	}
	if host == "" {
		return fmt.Errorf("invalid %s: host is required", name)
	}
	return nil
}
