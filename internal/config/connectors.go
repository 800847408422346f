package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Connector types understood by connector.Build.
const (
	TypePrometheus  = "prometheus"
	TypeAppDynamics = "appdynamics"
)

const (
	defaultPrometheusURL  = "http://localhost:9090"
	defaultAppDynamicsURL = "http://localhost:8090"
	defaultQueryWindow    = 10 * time.Minute
)

// Metric is a named query measured through a connector.
type Metric struct {
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit,omitempty"`
	Query string `yaml:"query"`
}

// PrometheusConfig configures checks against a Prometheus server.
type PrometheusConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Targets adds an optional check that every active scrape target is up.
	Targets bool     `yaml:"targets,omitempty"`
	Metrics []Metric `yaml:"metrics"`
}

// AppDynamicsConfig configures checks against an AppDynamics controller.
type AppDynamicsConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Account  string `yaml:"account"`
	Password string `yaml:"password,omitempty"`
	// PasswordEnv names an environment variable holding the password.
	PasswordEnv string        `yaml:"password_env,omitempty"`
	AppID       string        `yaml:"app_id"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Window      time.Duration `yaml:"window,omitempty"`
	Metrics     []Metric      `yaml:"metrics"`
}

// UserAuth is the basic auth user name AppDynamics expects.
func (c AppDynamicsConfig) UserAuth() string {
	return c.Username + "@" + c.Account
}

// ConnectorConfig describes one connector and the checks it runs.
type ConnectorConfig struct {
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Description string             `yaml:"description,omitempty"`
	Prometheus  *PrometheusConfig  `yaml:"prometheus,omitempty"`
	AppDynamics *AppDynamicsConfig `yaml:"appdynamics,omitempty"`
}

// ConnectorFile is the parsed YAML structure of SERVO_CONFIG_FILE:
// connectors: [{name, type, prometheus|appdynamics}]
type ConnectorFile struct {
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// LoadConnectors parses a YAML connector file from the given path.
// Returns nil if path is empty (no connector file).
func LoadConnectors(path string) ([]ConnectorConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connector file: %w", err)
	}

	var cf ConnectorFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse connector file: %w", err)
	}

	for i := range cf.Connectors {
		applyDefaults(&cf.Connectors[i])
	}

	if err := validateConnectors(cf.Connectors); err != nil {
		return nil, err
	}

	return cf.Connectors, nil
}

func applyDefaults(c *ConnectorConfig) {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Prometheus != nil {
		c.Prometheus.BaseURL = strings.TrimRight(c.Prometheus.BaseURL, "/")
		if c.Prometheus.BaseURL == "" {
			c.Prometheus.BaseURL = defaultPrometheusURL
		}
	}
	if c.AppDynamics != nil {
		c.AppDynamics.BaseURL = strings.TrimRight(c.AppDynamics.BaseURL, "/")
		if c.AppDynamics.BaseURL == "" {
			c.AppDynamics.BaseURL = defaultAppDynamicsURL
		}
		if c.AppDynamics.Window == 0 {
			c.AppDynamics.Window = defaultQueryWindow
		}
		if c.AppDynamics.Password == "" && c.AppDynamics.PasswordEnv != "" {
			c.AppDynamics.Password = os.Getenv(c.AppDynamics.PasswordEnv)
		}
	}
}

// validateConnectors ensures all connectors are valid.
func validateConnectors(connectors []ConnectorConfig) error {
	if len(connectors) == 0 {
		return fmt.Errorf("connector file contains no connectors")
	}

	seen := make(map[string]bool)

	for i, c := range connectors {
		if c.Name == "" {
			return fmt.Errorf("connector %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("connector %q: duplicate name", c.Name)
		}
		seen[c.Name] = true

		var err error
		switch c.Type {
		case TypePrometheus:
			err = validatePrometheus(c.Prometheus)
		case TypeAppDynamics:
			err = validateAppDynamics(c.AppDynamics)
		case "":
			err = fmt.Errorf("type is required")
		default:
			err = fmt.Errorf("unknown type %q", c.Type)
		}
		if err != nil {
			return fmt.Errorf("connector %q: %w", c.Name, err)
		}
	}

	return nil
}

func validatePrometheus(c *PrometheusConfig) error {
	if c == nil {
		return fmt.Errorf("prometheus section is required")
	}
	if err := validateHTTPURL(c.BaseURL, "base_url"); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return validateMetrics(c.Metrics, false)
}

func validateAppDynamics(c *AppDynamicsConfig) error {
	if c == nil {
		return fmt.Errorf("appdynamics section is required")
	}
	if err := validateHTTPURL(c.BaseURL, "base_url"); err != nil {
		return err
	}
	switch {
	case c.Username == "":
		return fmt.Errorf("username is required")
	case c.Account == "":
		return fmt.Errorf("account is required")
	case c.AppID == "":
		return fmt.Errorf("app_id is required")
	case c.Timeout < 0:
		return fmt.Errorf("timeout cannot be negative")
	case c.Window < 0:
		return fmt.Errorf("window cannot be negative")
	}
	return validateMetrics(c.Metrics, true)
}

func validateMetrics(metrics []Metric, required bool) error {
	if required && len(metrics) == 0 {
		return fmt.Errorf("at least one metric is required")
	}
	seen := make(map[string]bool)
	for i, m := range metrics {
		if m.Name == "" {
			return fmt.Errorf("metric %d: name is required", i)
		}
		if strings.TrimSpace(m.Query) == "" {
			return fmt.Errorf("metric %q: query is required", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("metric %q: duplicate name", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}
