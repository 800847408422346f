package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nholik/servo/internal/check"
)

func TestLoad_ValidationAndDefaults(t *testing.T) {
	defaults := Config{
		ConfigFile:    "servo.yaml",
		LogLevel:      defaultLogLevel,
		CheckInterval: defaultCheckInterval,
		HaltOn:        defaultHaltOn,
		HealthPort:    defaultHealthPort,
		MetricsPort:   defaultMetricsPort,
	}

	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    Config
	}{
		{
			name:    "missing config file",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "defaults applied",
			env: map[string]string{
				envConfigFile: "servo.yaml",
			},
			want: defaults,
		},
		{
			name: "invalid check interval",
			env: map[string]string{
				envConfigFile:    "servo.yaml",
				envCheckInterval: "nope",
			},
			wantErr: true,
		},
		{
			name: "zero check interval",
			env: map[string]string{
				envConfigFile:    "servo.yaml",
				envCheckInterval: "0s",
			},
			wantErr: true,
		},
		{
			name: "negative check interval",
			env: map[string]string{
				envConfigFile:    "servo.yaml",
				envCheckInterval: "-5s",
			},
			wantErr: true,
		},
		{
			name: "invalid halt policy",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envHaltOn:     "sometimes",
			},
			wantErr: true,
		},
		{
			name: "invalid check tag",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envCheckTags:  "Not_Valid",
			},
			wantErr: true,
		},
		{
			name: "invalid check name pattern",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envCheckName:  "/[/",
			},
			wantErr: true,
		},
		{
			name: "invalid health port",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envHealthPort: "http",
			},
			wantErr: true,
		},
		{
			name: "metrics port out of range",
			env: map[string]string{
				envConfigFile:  "servo.yaml",
				envMetricsPort: "70000",
			},
			wantErr: true,
		},
		{
			name: "invalid slack webhook url",
			env: map[string]string{
				envConfigFile:      "servo.yaml",
				envSlackWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "non http webhook url",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envWebhookURL: "ftp://example.com/hook",
			},
			wantErr: true,
		},
		{
			name: "invalid dry run",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envDryRun:     "maybe",
			},
			wantErr: true,
		},
		{
			name: "invalid dns server port",
			env: map[string]string{
				envConfigFile: "servo.yaml",
				envDNSServer:  "10.0.0.2:dns",
			},
			wantErr: true,
		},
		{
			name: "custom values",
			env: map[string]string{
				envConfigFile:      "servo.yaml",
				envLogLevel:        "debug",
				envCheckInterval:   "1d",
				envHaltOn:          "NEVER",
				envCheckName:       "/query/",
				envCheckID:         "a,b",
				envCheckTags:       "fast",
				envStatePath:       "/tmp/servo.json",
				envHealthPort:      "0",
				envMetricsPort:     "9100",
				envSlackWebhookURL: "https://hooks.slack.com/services/T00/B00/XXX",
				envWebhookURL:      "https://example.com/hook",
				envDryRun:          "true",
				envDNSServer:       "10.0.0.2:53",
			},
			want: Config{
				ConfigFile:      "servo.yaml",
				LogLevel:        "debug",
				CheckInterval:   24 * time.Hour,
				HaltOn:          check.HaltNever,
				CheckName:       "/query/",
				CheckID:         "a,b",
				CheckTags:       "fast",
				StatePath:       "/tmp/servo.json",
				HealthPort:      0,
				MetricsPort:     9100,
				SlackWebhookURL: "https://hooks.slack.com/services/T00/B00/XXX",
				WebhookURL:      "https://example.com/hook",
				DryRun:          true,
				DNSServer:       "10.0.0.2:53",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			clearEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tc.want {
				t.Fatalf("unexpected config: %+v", got)
			}
		})
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()
	clearEnv(t)

	dotenv := []byte(`
# example .env
SERVO_CONFIG_FILE=/etc/servo/from-dotenv.yaml
SERVO_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
SERVO_HALT_ON=check
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv(envConfigFile, "/etc/servo/from-env.yaml")
	t.Setenv(envHaltOn, "never")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ConfigFile != "/etc/servo/from-env.yaml" {
		t.Fatalf("config file did not prefer env: %s", got.ConfigFile)
	}
	if got.HaltOn != check.HaltNever {
		t.Fatalf("halt policy did not prefer env: %s", got.HaltOn)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.CheckInterval != defaultCheckInterval {
		t.Fatalf("unexpected check interval: %s", got.CheckInterval)
	}
}

func TestConfig_Filter(t *testing.T) {
	cfg := Config{CheckName: "/^Run query/", CheckTags: "fast, slow"}
	filter, err := cfg.Filter()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.Empty() {
		t.Fatalf("expected active filter")
	}
	match := check.Result{Name: `Run query "up"`, Tags: []string{"slow"}}
	if !filter.Matches(match) {
		t.Fatalf("expected filter to match %s", match.Name)
	}
	if filter.Matches(check.Result{Name: "Resolve host", Tags: []string{"slow"}}) {
		t.Fatalf("expected name pattern to exclude Resolve host")
	}

	empty, err := Config{}.Filter()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty.Empty() {
		t.Fatalf("expected empty filter, got %s", empty)
	}
}

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a case. t.Setenv restores the original values.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		envConfigFile, envLogLevel, envCheckInterval, envHaltOn, envCheckName,
		envCheckID, envCheckTags, envStatePath, envHealthPort, envMetricsPort,
		envSlackWebhookURL, envWebhookURL, envWebhookTemplate, envDryRun, envDNSServer,
	}
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	}
}
