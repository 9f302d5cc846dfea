package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-phone-verify/internal/pkg/phone"
	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made during init()
// before the first call to Struct.
var v = validator.New()

var otpPattern = regexp.MustCompile(`^\d{6}$`)

func init() {
	// otp: exactly six ASCII digits.
	_ = v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return otpPattern.MatchString(fl.Field().String())
	})
	// intlphone: E.164 number of 10 to 16 characters.
	_ = v.RegisterValidation("intlphone", func(fl validator.FieldLevel) bool {
		return phone.ValidateFull(fl.Field().String()) == nil
	})
}

// Struct validates the given struct using its validate tags.
// Returns a human-readable error string or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

// Var validates a single value against tag.
func Var(field interface{}, tag string) error {
	return v.Var(field, tag)
}
