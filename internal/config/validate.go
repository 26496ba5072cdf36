package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/tool/exttools"
	"github.com/robfig/cron/v3"
)

// Validate checks the structural validity of a Config and returns every
// problem found, joined. It verifies the version field, the allowed roots,
// the locale, the tool policy, the external tools, the session schedules and that every
// referenced module ID exists in the registry, with at most one session
// store among them. Directory existence is
// checked later, when the sandbox binds the roots.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateRoots(cfg)...)

	switch cfg.Locale {
	case "", LocaleEnglish, LocaleChinese:
	default:
		errs = append(errs, fmt.Errorf("config: unsupported locale %q (supported: %q, %q)", cfg.Locale, LocaleEnglish, LocaleChinese))
	}

	if err := cfg.Tools.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: tools.policy: %w", err))
	}
	errs = append(errs, validateExternal(cfg.Tools.External)...)

	errs = append(errs, validateSessions(cfg.Sessions)...)

	if cfg.Security.MaxArgsBytes < 0 {
		errs = append(errs, errors.New("config: security.max_args_bytes must not be negative"))
	}
	if cfg.Security.MaxArgsDepth < 0 {
		errs = append(errs, errors.New("config: security.max_args_depth must not be negative"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}
	if err := validateSessionStores(cfg); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateExternal(cfgs []exttools.Config) []error {
	var errs []error
	seen := make(map[string]bool, len(cfgs))
	for i, c := range cfgs {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: tools.external[%d]: %w", i, err))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("config: tools.external[%d]: duplicate tool name %q", i, c.Name))
		}
		seen[c.Name] = true
	}
	return errs
}

// validateSessionStores allows at most one session persistence module,
// since they all publish the same service.
func validateSessionStores(cfg *Config) error {
	var configured []string
	for _, info := range core.GetModulesByNamespace("session") {
		if _, ok := cfg.Modules[string(info.ID)]; ok {
			configured = append(configured, string(info.ID))
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf("config: only one session store module may be configured, got %s", strings.Join(configured, ", "))
	}
	return nil
}

func validateRoots(cfg *Config) []error {
	if len(cfg.AllowedRoots) == 0 {
		return []error{errors.New("config: at least one allowed root must be configured")}
	}

	var errs []error
	labels := make(map[string]int, len(cfg.AllowedRoots))
	for i, root := range cfg.AllowedRoots {
		if strings.TrimSpace(root.Path) == "" {
			errs = append(errs, fmt.Errorf("config: allowed_roots[%d]: path is required", i))
		}
		if root.Label == "" {
			continue
		}
		if prev, dup := labels[root.Label]; dup {
			errs = append(errs, fmt.Errorf("config: allowed_roots[%d]: label %q already used by allowed_roots[%d]", i, root.Label, prev))
			continue
		}
		labels[root.Label] = i
	}
	return errs
}

func validateSessions(s SessionsConfig) []error {
	var errs []error
	if s.MaxSessions < 0 {
		errs = append(errs, errors.New("config: sessions.max_sessions must not be negative"))
	}
	if s.CookieMaxAge < 0 {
		errs = append(errs, errors.New("config: sessions.cookie_max_age must not be negative"))
	}
	schedules := []struct{ name, spec string }{
		{"autosave", s.Autosave},
		{"prune", s.Prune},
	}
	for _, sc := range schedules {
		if sc.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(sc.spec); err != nil {
			errs = append(errs, fmt.Errorf("config: sessions.%s: invalid schedule %q: %w", sc.name, sc.spec, err))
		}
	}
	return errs
}
