package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/tool"
)

// RegisterCustomValidators registers the actiongate validation tags.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"phase":         validatePhase,
		"risk_level":    validateRiskLevel,
		"store_backend": validateStoreBackend,
		"duration":      validateDuration,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func validatePhase(fl validator.FieldLevel) bool {
	return action.Phase(fl.Field().String()).IsValid()
}

func validateRiskLevel(fl validator.FieldLevel) bool {
	return tool.RiskLevel(fl.Field().String()).IsValid()
}

func validateStoreBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "memory", "redis":
		return true
	default:
		return false
	}
}

// validateDuration accepts positive time.ParseDuration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return errors.New("store.redis_url is required when store.backend is redis")
	}

	if err := c.validateRiskRuleNames(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRiskRuleNames() error {
	seen := make(map[string]struct{}, len(c.RiskRules))
	for i, r := range c.RiskRules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("risk_rules[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "phase":
		return fmt.Sprintf("%s must be one of: shadow pilot production", field)
	case "risk_level":
		return fmt.Sprintf("%s must be one of: low medium high critical", field)
	case "store_backend":
		return fmt.Sprintf("%s must be 'memory' or 'redis'", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as 30s or 5m", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
