package config

import "fmt"

// StoreConfig selects where requests, tasks, responders and resources are
// kept.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the SQLite database file.
	Path string `json:"path"`
}

// SetDefaults applies default values.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "coordinator.db"
	}
}

// Validate checks the backend name.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "sqlite":
		return nil
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	// Address is the listen address. Empty disables the server.
	Address string `json:"address"`
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string `json:"token"`
	// AllowedOrigins enables CORS for browser dashboards.
	AllowedOrigins      []string `json:"allowed_origins"`
	ReadTimeoutSeconds  int      `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds"`
}

// SetDefaults applies default values.
func (c *APIConfig) SetDefaults() {
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 10
	}
	if c.WriteTimeoutSeconds <= 0 {
		c.WriteTimeoutSeconds = 30
	}
}

// Validate checks the token.
func (c APIConfig) Validate() error {
	if c.Token != "" && len(c.Token) < 8 {
		return fmt.Errorf("api: token must be at least 8 characters")
	}
	return nil
}
