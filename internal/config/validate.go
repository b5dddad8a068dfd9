package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their environment variable so operators see the key
	// they need to set. Fields without one fall back to the YAML key.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct-tag rules and the cross-field rules that depend on
// which optional integrations are turned on.
func Validate(cfg Config) error {
	var problems []string
	missing := false

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = true
			}
			problems = append(problems, describe(fe))
		}
	}

	require := func(ok bool, msg string) {
		if !ok {
			missing = true
			problems = append(problems, msg)
		}
	}

	if cfg.Email.Enabled {
		switch cfg.Email.Provider {
		case "resend":
			require(cfg.Email.ResendAPIKey != "", "RESEND_API_KEY is required when EMAIL_PROVIDER=resend")
		case "smtp":
			require(cfg.Email.SMTPHost != "", "SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	}
	if cfg.KMS.Enabled() {
		require(cfg.KMS.AccessToken != "", "KMS_ACCESS_TOKEN is required when KMS_URL is set")
	}
	if cfg.OAuth.Enabled() {
		require(cfg.OAuth.AuthorizeURL != "", "OAUTH_AUTHORIZE_URL is required when OAUTH_CLIENT_ID is set")
		require(cfg.OAuth.TokenURL != "", "OAUTH_TOKEN_URL is required when OAUTH_CLIENT_ID is set")
		require(cfg.OAuth.UserInfoURL != "", "OAUTH_USERINFO_URL is required when OAUTH_CLIENT_ID is set")
	}
	if cfg.AdminBootstrap.Username != "" {
		require(cfg.AdminBootstrap.Password != "", "ADMIN_PASSWORD is required when ADMIN_USERNAME is set")
	}

	if len(problems) == 0 {
		return nil
	}
	msg := "invalid configuration: " + strings.Join(problems, "; ")
	if missing {
		return fmt.Errorf("%s: %w", msg, ErrMissingRequired)
	}
	return errors.New(msg)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return field + " must be a valid URL"
	case "email":
		return field + " must be a valid email address"
	case "unique":
		return fmt.Sprintf("%s entries must have unique %s", fe.Namespace(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s (value %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
}
