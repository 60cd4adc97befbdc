package validator

import (
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	// TagNotBlank requires a string with at least one non-whitespace character.
	TagNotBlank = "notblank"
	// TagPrintable rejects control characters other than tab and newline.
	TagPrintable = "printable"
)

func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagNotBlank, validateNotBlank)
	_ = v.validate.RegisterValidation(TagPrintable, validatePrintable)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validatePrintable(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (v *Validator) registerCustomTranslations() {
	messages := map[string]map[string]string{
		LangEN: {
			TagNotBlank:  "{0} must not be blank",
			TagPrintable: "{0} must not contain control characters",
		},
		LangZH: {
			TagNotBlank:  "{0}不能为空白",
			TagPrintable: "{0}不能包含控制字符",
		},
	}

	for lang, translations := range messages {
		trans := v.GetTranslator(lang)
		for tag, message := range translations {
			registerTranslation(v.validate, trans, tag, message)
		}
	}
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}
