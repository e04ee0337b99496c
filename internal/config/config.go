// Package config loads application settings from defaults, an optional YAML
// file, and WEBDUEL_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the core.
type Config struct {
	Provider string `mapstructure:"provider"` // claude or openai
	Model    string `mapstructure:"model"`    // empty selects the provider default

	MaxSteps   int  `mapstructure:"max_steps"`
	EmptyLimit int  `mapstructure:"empty_limit"`
	LoopWindow int  `mapstructure:"loop_window"`
	Headless   bool `mapstructure:"headless"`

	ViewportWidth  int `mapstructure:"viewport_width"`
	ViewportHeight int `mapstructure:"viewport_height"`

	ConfidenceEpsilon float64 `mapstructure:"confidence_epsilon"`
	CostWeight        float64 `mapstructure:"cost_weight"`
	ScoreEpsilon      float64 `mapstructure:"score_epsilon"`

	PerceptionTimeout time.Duration `mapstructure:"perception_timeout"`
	DecisionTimeout   time.Duration `mapstructure:"decision_timeout"`
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`

	BaselineMaxPages int `mapstructure:"baseline_max_pages"`

	DebugDir string `mapstructure:"debug_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// SetDefaults registers every default on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", "claude")
	v.SetDefault("model", "")

	v.SetDefault("max_steps", 20)
	v.SetDefault("empty_limit", 3)
	v.SetDefault("loop_window", 4)
	v.SetDefault("headless", true)

	v.SetDefault("viewport_width", 1280)
	v.SetDefault("viewport_height", 720)

	v.SetDefault("confidence_epsilon", 0.05)
	// 1,000 tokens cost one second of score penalty.
	v.SetDefault("cost_weight", 0.001)
	v.SetDefault("score_epsilon", 0.05)

	v.SetDefault("perception_timeout", "60s")
	v.SetDefault("decision_timeout", "30s")
	v.SetDefault("execution_timeout", "30s")
	v.SetDefault("navigation_timeout", "30s")

	v.SetDefault("baseline_max_pages", 1)

	v.SetDefault("debug_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load reads configuration. path may be empty, in which case only an optional
// ./webduel.yaml is considered.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("WEBDUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("webduel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	if c.Provider != "claude" && c.Provider != "anthropic" &&
		c.Provider != "openai" && c.Provider != "gpt" {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.CostWeight < 0 {
		return fmt.Errorf("cost_weight must not be negative, got %f", c.CostWeight)
	}
	return nil
}
