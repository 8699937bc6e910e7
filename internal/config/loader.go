package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConfigDirEnv overrides the config search path.
const ConfigDirEnv = "THREADDISPATCH_CONFIG_DIR"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by DiscoverConfigDir when no location holds a config.
var ErrNoConfig = errors.New("no config found (checked: $" + ConfigDirEnv + ", ~/.config/threaddispatch, /etc/threaddispatch, ./config.yaml)")

// Load reads and parses configuration from a file, or from config.yaml inside
// a directory. Values absent from the file keep their Defaults.
func Load(configPath string) (*Config, error) {
	file, err := ResolveFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyLocked(file); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(file)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = file

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", file, err)
	}
	return cfg, nil
}

// ResolveFile turns a file or directory argument into the absolute path of
// the config file it names.
func ResolveFile(configPath string) (string, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config not found: %s (pass --config or set $%s)", abs, ConfigDirEnv)
	}
	if !info.IsDir() {
		return abs, nil
	}
	file := filepath.Join(abs, "config.yaml")
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("no config.yaml in directory %s", abs)
	}
	return file, nil
}

// LoadOrDefault loads configPath if set, otherwise the first discovered config.
// With nothing to load it returns Defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		found, err := DiscoverConfigDir()
		switch {
		case errors.Is(err, ErrNoConfig):
			return Defaults(), nil
		case err != nil:
			return nil, err
		}
		configPath = found
	}
	return Load(configPath)
}

// DiscoverConfigDir returns the first config location that exists, in order:
// $THREADDISPATCH_CONFIG_DIR, ~/.config/threaddispatch, /etc/threaddispatch,
// ./config.yaml.
func DiscoverConfigDir() (string, error) {
	type candidate struct{ location, marker string }

	var candidates []candidate
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		candidates = append(candidates, candidate{dir, dir})
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".config", "threaddispatch")
		candidates = append(candidates, candidate{dir, filepath.Join(dir, "config.yaml")})
	}
	candidates = append(candidates,
		candidate{"/etc/threaddispatch", "/etc/threaddispatch/config.yaml"},
		candidate{"./config.yaml", "./config.yaml"},
	)

	for _, c := range candidates {
		if _, err := os.Stat(c.marker); err == nil {
			return c.location, nil
		}
	}
	return "", ErrNoConfig
}

// loadConfigFile parses path on top of Defaults after env interpolation.
func loadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// interpolateEnv expands ${VAR} from the environment. Unset variables stay
// literal so validate can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(ref string) string {
		if v, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

// validate rejects values that would fail later at startup.
func validate(cfg *Config) error {
	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be positive (got %d)", cfg.Pool.Workers)
	}
	if cfg.Pool.DemoJobs < 0 {
		return fmt.Errorf("pool.demo_jobs must not be negative (got %d)", cfg.Pool.DemoJobs)
	}
	if cfg.Pool.DrainTimeout < 0 {
		return fmt.Errorf("pool.drain_timeout must not be negative (got %s)", cfg.Pool.DrainTimeout)
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when the journal is enabled")
		}
		if err := checkUnresolvedEnvVar("journal.path", cfg.Journal.Path); err != nil {
			return err
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkUnresolvedEnvVar("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkUnresolvedEnvVar(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when the API is enabled")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics are enabled")
	}

	return nil
}

// checkUnresolvedEnvVar rejects values still holding a ${VAR} placeholder.
func checkUnresolvedEnvVar(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
