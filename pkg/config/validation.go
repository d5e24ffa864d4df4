package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if len(cfg.Volumes) == 0 {
		return fmt.Errorf("volumes: at least one volume must be configured")
	}

	// Volume ids become the identifier prefix, so they must be unique.
	// The underscore exclusion is covered by the struct tag.
	ids := make(map[string]bool)
	for i, vol := range cfg.Volumes {
		if ids[vol.ID] {
			return fmt.Errorf("volumes[%d]: duplicate volume id %q", i, vol.ID)
		}
		ids[vol.ID] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
