package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config keeps defaults",
			yaml: `
pool:
  workers: 4
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Pool.Workers != 4 {
					t.Errorf("pool.workers = %d, want 4", cfg.Pool.Workers)
				}
				if cfg.Pool.DemoJobs != 1000 {
					t.Errorf("pool.demo_jobs = %d, want default 1000", cfg.Pool.DemoJobs)
				}
				if cfg.Pool.DrainTimeout != 30*time.Second {
					t.Errorf("pool.drain_timeout = %s, want 30s", cfg.Pool.DrainTimeout)
				}
				if cfg.Service.LogLevel != "info" {
					t.Errorf("service.log_level = %q, want info", cfg.Service.LogLevel)
				}
				if !cfg.Metrics.Enabled || cfg.Metrics.Namespace != "threaddispatch" {
					t.Error("metrics defaults not applied")
				}
				if cfg.SourcePath == "" {
					t.Error("SourcePath not set")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: bench
  log_level: debug
  log_format: text
pool:
  workers: 16
  demo_jobs: 50
  drain_timeout: 5s
journal:
  enabled: true
  path: ./journal.db
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    tokens:
      - token: reader
        scopes: ["jobs:ro"]
metrics:
  enabled: false
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "bench" || cfg.Service.LogFormat != "text" {
					t.Error("service section not parsed")
				}
				if cfg.Pool.DrainTimeout != 5*time.Second {
					t.Errorf("pool.drain_timeout = %s, want 5s", cfg.Pool.DrainTimeout)
				}
				if !cfg.Journal.Enabled || cfg.Journal.Path != "./journal.db" {
					t.Error("journal section not parsed")
				}
				if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].Scopes[0] != "jobs:ro" {
					t.Error("api tokens not parsed")
				}
				if cfg.Metrics.Enabled {
					t.Error("metrics should be disabled")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${TD_TEST_API_KEY}
`,
			env: map[string]string{"TD_TEST_API_KEY": "secret-key"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "secret-key" {
					t.Errorf("api_key = %q, want secret-key", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unresolved env var",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${TD_TEST_UNSET_KEY}
`,
			wantErr: "TD_TEST_UNSET_KEY",
		},
		{
			name: "zero workers",
			yaml: `
pool:
  workers: 0
`,
			wantErr: "pool.workers must be positive",
		},
		{
			name: "bad log level",
			yaml: `
service:
  log_level: loud
`,
			wantErr: "service.log_level",
		},
		{
			name: "api without auth",
			yaml: `
api:
  enabled: true
`,
			wantErr: "api.auth requires",
		},
		{
			name: "token without scopes",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
`,
			wantErr: "scopes must be non-empty",
		},
		{
			name: "journal without path",
			yaml: `
journal:
  enabled: true
  path: ""
`,
			wantErr: "journal.path is required",
		},
		{
			name:    "malformed yaml",
			yaml:    "pool: [",
			wantErr: "parse ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configPath := writeConfig(t, t.TempDir(), tt.yaml)
			cfg, err := Load(configPath)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "pool:\n  workers: 3\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Pool.Workers != 3 {
		t.Errorf("pool.workers = %d, want 3", cfg.Pool.Workers)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() of a directory without config.yaml should fail")
	}
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pool:\n  workers: 1\n")

	for _, arg := range []string{dir, path} {
		got, err := ResolveFile(arg)
		if err != nil {
			t.Fatalf("ResolveFile(%q) error = %v", arg, err)
		}
		if got != path {
			t.Errorf("ResolveFile(%q) = %q, want %q", arg, got, path)
		}
	}

	if _, err := ResolveFile(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), ConfigDirEnv) {
		t.Errorf("missing file error = %v, want hint naming %s", err, ConfigDirEnv)
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pool:\n  workers: 3\n")

	if _, err := Lock(dir, []string{"config.yaml"}, false); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() with matching checksums failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("pool:\n  workers: 99\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() after edit error = %v, want hash mismatch", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	writeConfig(t, dir, "pool:\n  workers: 6\n")
	t.Setenv(ConfigDirEnv, dir)

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() failed: %v", err)
	}
	if cfg.Pool.Workers != 6 {
		t.Errorf("pool.workers = %d, want 6 from %s", cfg.Pool.Workers, ConfigDirEnv)
	}

	t.Setenv(ConfigDirEnv, "")
	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() without config failed: %v", err)
	}
	if cfg.Pool.Workers != Defaults().Pool.Workers || cfg.SourcePath != "" {
		t.Error("expected defaults when nothing is discovered")
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${TD_TEST_ROOT}/data",
			env:   map[string]string{"TD_TEST_ROOT": "/srv"},
			want:  "path: /srv/data",
		},
		{
			name:  "multiple vars",
			input: "${TD_TEST_USER}:${TD_TEST_PASS}",
			env:   map[string]string{"TD_TEST_USER": "admin", "TD_TEST_PASS": "secret"},
			want:  "admin:secret",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${TD_TEST_UNDEFINED}",
			want:  "key: ${TD_TEST_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := interpolateEnv(tt.input); got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.Workers = 12

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "pool.workers", want: "12"},
		{path: "pool.drain_timeout", want: "30s"},
		{path: "service.name", want: "threaddispatch"},
		{path: "metrics", want: "enabled: true\nnamespace: threaddispatch"},
		{path: "pool.missing", wantErr: true},
		{path: "pool.workers.deeper", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetPath(%q) expected error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetPath(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("GetPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
