package currency

import "fmt"

// Registry holds the per-currency Config consulted by the vault manager,
// the liquidation engine, and the redemption engine.
type Registry struct {
	configs map[Code]Config
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{configs: map[Code]Config{}}
}

// Set installs (or replaces) the configuration for c after validating it.
func (r *Registry) Set(c Code, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.configs[c] = cfg
	return nil
}

// Get returns the configuration for c.
func (r *Registry) Get(c Code) (Config, bool) {
	cfg, ok := r.configs[c]
	return cfg, ok
}

// MustEnabled returns the configuration for c, failing if the currency is
// unknown or disabled.
func (r *Registry) MustEnabled(c Code) (Config, error) {
	cfg, ok := r.configs[c]
	if !ok {
		return Config{}, fmt.Errorf("currency: %s is not configured", c)
	}
	if !cfg.Enabled {
		return Config{}, fmt.Errorf("currency: %s is disabled", c)
	}
	return cfg, nil
}

// Snapshot returns a stable copy of the registry's contents, used when a
// long-running sweep (fee accrual) needs an immutable view per the spec's
// "stable snapshot of currency_configs" requirement.
func (r *Registry) Snapshot() map[Code]Config {
	out := make(map[Code]Config, len(r.configs))
	for c, cfg := range r.configs {
		out[c] = cfg
	}
	return out
}
