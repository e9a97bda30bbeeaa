package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and cross-field
// errors. Tag-level rules live on the struct fields; rules that span
// fields are checked here.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Cache.Enabled && cfg.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the identity cache is enabled")
	}

	domains := make(map[string]bool, len(cfg.Directory.Domains))
	for _, d := range cfg.Directory.Domains {
		if domains[d.Name] {
			return fmt.Errorf("directory.domains: duplicate domain %q", d.Name)
		}
		domains[d.Name] = true
	}
	for _, name := range cfg.Directory.Forest {
		if !domains[name] {
			return fmt.Errorf("directory.forest references unknown domain %q", name)
		}
	}
	for _, t := range cfg.Directory.Trusts {
		if !domains[t.Domain] {
			return fmt.Errorf("directory.trusts references unknown domain %q", t.Domain)
		}
	}

	groupSIDs := make(map[string]bool, len(cfg.Local.Groups))
	for _, g := range cfg.Local.Groups {
		if groupSIDs[g.SID] {
			return fmt.Errorf("local.groups: duplicate group SID %q", g.SID)
		}
		groupSIDs[g.SID] = true
	}

	return nil
}
