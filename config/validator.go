package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator accumulates cross-field rules the struct-tag validator can't
// express (environment-dependent constraints, "at least one of" groups).
// Struct-tag validation runs first via go-playground/validator/v10; this
// type layers the rules the teacher's hand-rolled config.Validator used to
// carry for simple required/range checks.
type Validator struct {
	errors []string
}

func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) Check(cond bool, message string) {
	if !cond {
		v.errors = append(v.errors, message)
	}
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []string { return v.errors }

// structTagValidate runs go-playground/validator/v10 struct-tag rules over
// cfg and returns one message per failed field.
func structTagValidate(cfg *Config) []string {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var msgs []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
		}
		return msgs
	}
	return []string{err.Error()}
}

// Validate runs struct-tag validation plus the environment-dependent and
// cross-field rules from spec §4.B/§6, returning every failure at once.
func Validate(cfg *Config) []string {
	errs := structTagValidate(cfg)

	v := NewValidator()
	v.RequireOneOf("environment", string(cfg.Environment), []string{"dev", "staging", "prod"})

	switch cfg.Environment {
	case EnvProd:
		v.Check(!cfg.Debug, "debug must be false in prod")
		v.Check(!cfg.HotReload, "hot_reload must be false in prod")
	case EnvDev:
		// hot reload allowed, debug defaults true — no additional constraint
	}

	if cfg.Notifications.Enabled {
		v.Check(cfg.Notifications.Email != "" || cfg.Notifications.Slack != "",
			"notifications.email or notifications.slack is required when notifications.enabled")
	}

	for name, site := range cfg.Sites {
		seen := make(map[string]bool, len(site.ContentSelectors))
		for selector := range site.ContentSelectors {
			if seen[selector] {
				v.Check(false, fmt.Sprintf("sites.%s: duplicate content selector %q", name, selector))
			}
			seen[selector] = true
		}
	}

	errs = append(errs, v.Errors()...)
	return errs
}

// SoftWarnings reports rules that degrade a deployment without making its
// configuration invalid — unlike debug and hot_reload, prod's ban on
// DEBUG-level logging is a warning, not a hard load failure (spec §6).
// Load logs these; it never folds them into Validate's error list.
func SoftWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Environment == EnvProd && cfg.Logging.Level == LogDebug {
		warnings = append(warnings, "logging.level=DEBUG in prod is discouraged")
	}
	return warnings
}
