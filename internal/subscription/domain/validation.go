package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxNameLength  = 256
	forbiddenChars = `/()"<>\{}`
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("subscriber_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if strings.TrimSpace(name) == "" {
			return false
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return false
		}
		return !strings.ContainsAny(name, forbiddenChars)
	})
	return v
}

// ParseName trims name and rejects empty, overlong or markup-looking values.
func ParseName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if err := validate.Var(name, "subscriber_name"); err != nil {
		return "", ErrInvalidName
	}
	return name, nil
}

func ParseEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}
