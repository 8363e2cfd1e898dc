// Package validator wraps go-playground/validator for inbound payloads and
// for the per-parameter rules configured on functions.
package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
)

var (
	instance *validator.Validate
	initOnce sync.Once
)

// tagMessages render failed tags; %s is the tag parameter.
var tagMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"phone":    "must be a valid phone number",
	"url":      "must be a valid URL",
	"min":      "must be at least %s",
	"max":      "must not exceed %s",
	"len":      "must have length %s",
	"gte":      "must be greater than or equal to %s",
	"lte":      "must be less than or equal to %s",
	"oneof":    "must be one of: %s",
}

func engine() *validator.Validate {
	initOnce.Do(func() {
		instance = validator.New()
		// report json names so errors match what producers send
		instance.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = instance.RegisterValidation("phone", isPhone)
	})
	return instance
}

// Validate checks the struct tags of s. Failures wrap apperrors.ErrValidation
// and name every offending field.
func Validate(s interface{}) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fe.Field() + " " + describe(fe)
	}
	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(msgs, "; "))
}

// ValidateParam checks an extracted value against a parameter's rules, a
// validator tag string such as "email" or "min=3,max=50". A rule string the
// validator cannot parse is reported as a validation error.
func ValidateParam(code string, value interface{}, rules string) (err error) {
	rules = strings.TrimSpace(rules)
	if rules == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: parameter %s has unusable rules %q: %v", apperrors.ErrValidation, code, rules, r)
		}
	}()

	verr := engine().Var(value, rules)
	if verr == nil {
		return nil
	}
	if fieldErrs, ok := verr.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: parameter %s %s", apperrors.ErrValidation, code, describe(fieldErrs[0]))
	}
	return fmt.Errorf("%w: parameter %s: %w", apperrors.ErrValidation, code, verr)
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("failed rule %q", fe.Tag())
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}

// isPhone accepts 7 to 15 digits with common separators and an optional leading +.
func isPhone(fl validator.FieldLevel) bool {
	digits := 0
	for i, r := range strings.TrimSpace(fl.Field().String()) {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case strings.ContainsRune(" -().", r):
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
