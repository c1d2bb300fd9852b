package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/ledger"
	"github.com/reliefgrid/coordinator/core/matcher"
	"github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/priority"
	"github.com/reliefgrid/coordinator/infra/mqtt"
)

type Config struct {
	Engine    engine.Config   `json:"engine"`
	Priority  priority.Config `json:"priority"`
	Matcher   matcher.Config  `json:"matcher"`
	Ledger    ledger.Config   `json:"ledger"`
	Store     StoreConfig     `json:"store"`
	MQTT      mqtt.Config     `json:"mqtt"`
	Notifier  NotifierConfig  `json:"notifier"`
	Directory DirectoryConfig `json:"directory"`
	Intake    IntakeConfig    `json:"intake"`
	Metrics   metrics.Config  `json:"metrics"`
	Audit     audit.Config    `json:"audit"`
	Sentry    SentryConfig    `json:"sentry"`
	API       APIConfig       `json:"api"`
}

// EngineConfig returns the engine settings with the scoring, matching and
// ledger sections attached.
func (c *Config) EngineConfig() engine.Config {
	ec := c.Engine
	ec.Priority = c.Priority
	ec.Matcher = c.Matcher
	ec.Ledger = c.Ledger
	return ec
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Engine.SetDefaults()
	c.Priority.SetDefaults()
	c.Matcher.SetDefaults()
	c.Ledger.SetDefaults()
	c.Store.SetDefaults()
	c.Notifier.SetDefaults()
	c.Directory.SetDefaults()
	c.Intake.SetDefaults()
	c.Audit.SetDefaults()
	c.Sentry.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section. Feeds are only checked when enabled and
// require a broker.
func (c *Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	feeds := []struct {
		name     string
		enabled  bool
		validate func() error
	}{
		{"notifier", c.Notifier.Enabled, c.Notifier.Validate},
		{"directory", c.Directory.Enabled, c.Directory.Validate},
		{"intake", c.Intake.Enabled, c.Intake.Validate},
	}
	for _, f := range feeds {
		if !f.enabled {
			continue
		}
		if !c.MQTT.Enabled() {
			return fmt.Errorf("%s: mqtt.broker is required", f.name)
		}
		if err := f.validate(); err != nil {
			return err
		}
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	return c.API.Validate()
}

// Load reads the configuration file at path, applies K_ environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
