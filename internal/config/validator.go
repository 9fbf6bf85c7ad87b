package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// RegisterCustomValidators registers IntentGate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	validators := map[string]validator.Func{
		"rules_source":  validateRulesSource,
		"duration":      validateDuration,
		"cron_schedule": validateCron,
	}
	for tag, fn := range validators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateRulesSource accepts paths ending in .json, .yaml or .yml.
func validateRulesSource(fl validator.FieldLevel) bool {
	switch strings.ToLower(filepath.Ext(fl.Field().String())) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
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

	if c.Rules.Watch && c.Rules.File == "" {
		return errors.New("rules: watch requires rules.file")
	}
	if c.Audit.Stdout && c.Tracing.Enabled && c.Tracing.Output == "stdout" {
		return errors.New("audit: stdout conflicts with tracing.output stdout")
	}
	if c.Tracing.Sampler == "ratio" && c.Tracing.SampleRatio == 0 {
		return errors.New("tracing: sampler 'ratio' requires sample_ratio > 0")
	}
	return nil
}

// Durations parses the duration fields. Call after Validate.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"rules.watch_debounce", c.Rules.WatchDebounce, &d.WatchDebounce},
		{"audit.flush_interval", c.Audit.FlushInterval, &d.FlushInterval},
		{"audit.send_timeout", c.Audit.SendTimeout, &d.SendTimeout},
		{"audit.archive_retention", c.Audit.ArchiveRetention, &d.ArchiveRetention},
		{"delivery.timeout", c.Delivery.Timeout, &d.DeliveryTimeout},
		{"tracing.metric_interval", c.Tracing.MetricInterval, &d.MetricInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}

// Durations holds the parsed duration fields of a Config.
type Durations struct {
	WatchDebounce    time.Duration
	FlushInterval    time.Duration
	SendTimeout      time.Duration
	ArchiveRetention time.Duration
	DeliveryTimeout  time.Duration
	MetricInterval   time.Duration
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
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
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "rules_source":
		return fmt.Sprintf("%s must be a .json, .yaml or .yml file", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as '500ms' or '1h'", field)
	case "cron_schedule":
		return fmt.Sprintf("%s must be a 5-field cron expression", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
