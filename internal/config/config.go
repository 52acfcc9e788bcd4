// Package config loads gateway configuration: baked-in defaults, an
// optional YAML file, then environment variables, later layers winning.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// Config is the merged gateway configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ProvidersConfig holds one binding per upstream provider.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Google    ProviderConfig `yaml:"google"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	XAI       ProviderConfig `yaml:"xai"`
}

// ProviderConfig binds one provider. An empty APIKey leaves the provider
// unconfigured; its models resolve as not found.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Defaults returns the baked-in configuration.
func Defaults() *Config {
	return &Config{
		DBPath:   "chat.db",
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path, and environment variables. A missing file is not an error; an
// unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			logging.L_debug("config file not found, using defaults", "path", path)
		} else {
			var file Config
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &file, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("config: merge %s: %w", path, err)
			}
			logging.L_debug("config file loaded", "path", path)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables on top of the file values.
// Alias variables are consulted in order; the first non-empty wins.
func (c *Config) applyEnv() {
	if v := firstEnv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"); v != "" {
		c.Providers.Google.APIKey = v
	}
	if v := firstEnv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := firstEnv("XAI_API_KEY", "GROK_API_KEY"); v != "" {
		c.Providers.XAI.APIKey = v
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Bindings converts the provider sections into registry bindings.
func (c *Config) Bindings() map[models.Provider]models.Binding {
	out := make(map[models.Provider]models.Binding)
	add := func(p models.Provider, pc ProviderConfig) {
		if pc.APIKey == "" {
			return
		}
		out[p] = models.Binding{Provider: p, APIKey: pc.APIKey, BaseURL: pc.BaseURL}
	}
	add(models.ProviderOpenAI, c.Providers.OpenAI)
	add(models.ProviderGoogle, c.Providers.Google)
	add(models.ProviderAnthropic, c.Providers.Anthropic)
	add(models.ProviderXAI, c.Providers.XAI)
	return out
}
