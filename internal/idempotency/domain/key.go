package domain

import (
	"github.com/go-playground/validator/v10"
)

const MaxKeyLength = 50

// Key is a client supplied idempotency key that passed ParseKey.
type Key string

var keyValidate = newKeyValidator()

func newKeyValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("idempotency_charset", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !isKeyRune(r) {
				return false
			}
		}
		return true
	})
	return v
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	default:
		return false
	}
}

// ParseKey rejects empty, overly long and non [A-Za-z0-9._:-] keys before any storage access.
func ParseKey(raw string) (Key, error) {
	if err := keyValidate.Var(raw, "required,max=50,idempotency_charset"); err != nil {
		return "", ErrInvalidKey
	}
	return Key(raw), nil
}

func (k Key) String() string { return string(k) }
