// Package validation wraps go-playground/validator with English and
// Vietnamese field messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"greenmarket/internal/apperr"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/vi"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	vi_translations "github.com/go-playground/validator/v10/translations/vi"
	"github.com/shopspring/decimal"
)

// Up to three integer digits and two fraction digits, e.g. "999.99".
var weightPattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,2})?$`)

var ErrInvalidWeight = errors.New("weight must be a positive decimal with at most 3 integer and 2 fraction digits")

// ParseWeight accepts a weight in kilograms and returns it as a decimal.
func ParseWeight(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !weightPattern.MatchString(s) {
		return decimal.Zero, ErrInvalidWeight
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidWeight
	}
	return d, nil
}

var customMessages = map[string]map[string]string{
	"en": {"weight": "{0} must be a positive number with at most 3 digits and 2 decimals"},
	"vi": {"weight": "{0} phải là số dương, tối đa 3 chữ số phần nguyên và 2 chữ số thập phân"},
}

type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
}

func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.RegisterValidation("weight", func(fl validator.FieldLevel) bool {
		_, err := ParseWeight(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, err
	}

	english := en.New()
	uni := ut.New(english, english, vi.New())

	registrars := map[string]func(*validator.Validate, ut.Translator) error{
		"en": en_translations.RegisterDefaultTranslations,
		"vi": vi_translations.RegisterDefaultTranslations,
	}
	for locale, register := range registrars {
		trans, _ := uni.GetTranslator(locale)
		if err := register(validate, trans); err != nil {
			return nil, fmt.Errorf("register %s translations: %w", locale, err)
		}
		for tag, text := range customMessages[locale] {
			tag, text := tag, text
			err := validate.RegisterTranslation(tag, trans,
				func(t ut.Translator) error { return t.Add(tag, text, true) },
				func(t ut.Translator, fe validator.FieldError) string {
					msg, _ := t.T(tag, fe.Field())
					return msg
				},
			)
			if err != nil {
				return nil, fmt.Errorf("register %s message for %s: %w", locale, tag, err)
			}
		}
	}

	return &Validator{validate: validate, uni: uni}, nil
}

// Struct validates s and returns an *apperr.Error listing every failing field,
// or nil.
func (v *Validator) Struct(locale string, s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation().Wrap(err)
	}

	trans, _ := v.uni.GetTranslator(locale)
	fields := make([]apperr.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, apperr.FieldError{
			Field:   fe.Field(),
			Message: fe.Translate(trans),
		})
	}
	return apperr.Validation(fields...)
}
