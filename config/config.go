// Package config loads the application configuration from YAML with
// environment-variable expansion for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/lumipet/lumipet/provider"
)

// Config is the full application configuration.
type Config struct {
	Agent     AgentConfig               `yaml:"agent" mapstructure:"agent"`
	Providers []ProviderInstance        `yaml:"providers" mapstructure:"providers"`
	Plugins   map[string]map[string]any `yaml:"plugins" mapstructure:"plugins"`
	Transport TransportConfig           `yaml:"transport" mapstructure:"transport"`
	SkillsDir string                    `yaml:"skills_dir" mapstructure:"skills_dir"`
	Logging   LoggingConfig             `yaml:"logging" mapstructure:"logging"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxToolIterations int     `yaml:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	Streaming         bool    `yaml:"streaming" mapstructure:"streaming"`
	HistoryWindow     int     `yaml:"history_window" mapstructure:"history_window"`
	SystemPrompt      string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	EnableSpeech      bool    `yaml:"enable_speech" mapstructure:"enable_speech"`
	EnableExpression  bool    `yaml:"enable_expression" mapstructure:"enable_expression"`
}

// ProviderInstance is one configured provider instance.
type ProviderInstance struct {
	ID          string         `yaml:"id" mapstructure:"id"`
	Type        string         `yaml:"type" mapstructure:"type"`
	DisplayName string         `yaml:"display_name" mapstructure:"display_name"`
	Kind        string         `yaml:"kind" mapstructure:"kind"`
	Enabled     *bool          `yaml:"enabled" mapstructure:"enabled"`
	Settings    map[string]any `yaml:"settings" mapstructure:"settings"`
}

// TransportConfig selects builtin (in-process) or remote-backend mode.
type TransportConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"` // "builtin" or "remote"
	URL  string `yaml:"url" mapstructure:"url"`
}

// LoggingConfig tunes the slog backend.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "text" or "json"
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

// expandEnv substitutes $VAR references that resolve to set environment
// variables; unset references are left intact.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxToolIterations: 10,
			Streaming:         true,
			HistoryWindow:     20,
			Temperature:       0.7,
			EnableSpeech:      true,
			EnableExpression:  true,
		},
		Transport: TransportConfig{Mode: "builtin"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config.yaml from the working directory or the user config dir,
// overlays LUMIPET_* environment variables and expands $VAR references in
// provider settings.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "lumipet"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "lumipet"))
	}

	v.SetEnvPrefix("LUMIPET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: run on defaults.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	for i, p := range cfg.Providers {
		for key, val := range p.Settings {
			if s, ok := val.(string); ok {
				p.Settings[key] = expandEnv(s)
			}
		}
		cfg.Providers[i] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors and fills missing tunables.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider instance missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider instance id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Type == "" {
			return fmt.Errorf("config: provider %q missing type", p.ID)
		}
		switch p.Kind {
		case "", string(provider.KindLLM), string(provider.KindSpeech):
		default:
			return fmt.Errorf("config: provider %q has invalid kind %q", p.ID, p.Kind)
		}
	}
	if c.Transport.Mode == "remote" && c.Transport.URL == "" {
		return fmt.Errorf("config: transport mode remote requires url")
	}
	if c.Agent.MaxToolIterations < 1 {
		c.Agent.MaxToolIterations = 10
	}
	if c.Agent.HistoryWindow < 0 {
		c.Agent.HistoryWindow = 20
	}
	return nil
}

// InstanceConfigs converts the provider section into instance manager
// configurations. Kind defaults to llm; Enabled defaults to true.
func (c *Config) InstanceConfigs() []provider.InstanceConfig {
	out := make([]provider.InstanceConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		kind := provider.KindLLM
		if p.Kind == string(provider.KindSpeech) {
			kind = provider.KindSpeech
		}
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		out = append(out, provider.InstanceConfig{
			ID:          p.ID,
			ProviderID:  p.Type,
			DisplayName: p.DisplayName,
			Kind:        kind,
			Enabled:     enabled,
			Settings:    provider.Settings(p.Settings),
		})
	}
	return out
}
