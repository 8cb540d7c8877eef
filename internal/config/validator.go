package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators is the hook for hookengine-specific validation
// rules, called by Validate before the struct check. It registers none and
// returns nil.
func RegisterCustomValidators(v *validator.Validate) error {
	return nil
}

// Validate validates the Config using struct tags and hand-written
// cross-field rules. Returns an error if validation fails, with actionable
// error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStorePath(); err != nil {
		return err
	}

	if err := c.validateRuleBackends(); err != nil {
		return err
	}

	if err := c.validateBindingReferences(); err != nil {
		return err
	}

	return nil
}

// validateStorePath ensures a sqlite driver names a database path.
func (c *Config) validateStorePath() error {
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return errors.New("store: path is required when driver is \"sqlite\"")
	}
	return nil
}

// validateRuleBackends ensures each rule carries the fields its backend needs.
func (c *Config) validateRuleBackends() error {
	for i, r := range c.Rules {
		switch r.Backend {
		case "cel":
			if strings.TrimSpace(r.Expression) == "" {
				return fmt.Errorf("rules[%d] %q: expression is required for backend \"cel\"", i, r.Name)
			}
		case "native":
			if r.NativeRule == "" {
				return fmt.Errorf("rules[%d] %q: native_rule is required for backend \"native\"", i, r.Name)
			}
			if r.NativeRule == "max_file_size" && r.MaxBytes <= 0 {
				return fmt.Errorf("rules[%d] %q: max_bytes must be > 0 for native_rule \"max_file_size\"", i, r.Name)
			}
		}
	}
	return nil
}

// validateBindingReferences ensures every bound rule name is defined in Rules.
func (c *Config) validateBindingReferences() error {
	known := make(map[string]struct{}, len(c.Rules))
	for _, r := range c.Rules {
		known[r.Name] = struct{}{}
	}

	for i, b := range c.Bindings {
		for _, name := range b.ChangesetRules {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("bindings[%d] %q: references unknown changeset rule %q", i, b.Bookmark, name)
			}
		}
		for _, name := range b.FileRules {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("bindings[%d] %q: references unknown file rule %q", i, b.Bookmark, name)
			}
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
