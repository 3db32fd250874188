// Package validate wraps go-playground/validator with the project's custom tags
// and turns failures into apperr validation errors keyed by JSON field name.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"schoolboard/internal/apperr"
	"schoolboard/internal/model"
)

var (
	v          *validator.Validate
	translator ut.Translator

	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,32}$`)
)

const (
	notBlankTag = "notblank"
	usernameTag = "username"
	roleTag     = "role"
	dateTag     = "isodate"
	clockTag    = "clock"
)

func init() {
	v = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation(usernameTag, func(fl validator.FieldLevel) bool {
		return Username(fl.Field().String())
	})
	_ = v.RegisterValidation(roleTag, func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String())
	})
	_ = v.RegisterValidation(dateTag, func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation(clockTag, func(fl validator.FieldLevel) bool {
		hh, mm, ok := strings.Cut(fl.Field().String(), ":")
		return ok && len(hh) == 2 && len(mm) == 2 && hh <= "23" && mm <= "59"
	})

	messages := map[string]string{
		notBlankTag: "this field cannot be blank",
		usernameTag: "must be 3-32 characters of letters, digits, dot, dash or underscore",
		roleTag:     "must be one of admin, teacher, student, kiosk",
		dateTag:     "must be a YYYY-MM-DD date",
		clockTag:    "must be an HH:MM time",
	}
	for tag, message := range messages {
		message := message
		_ = v.RegisterTranslation(tag, translator, func(ut.Translator) error { return nil },
			func(ut.Translator, validator.FieldError) string { return message })
	}
}

// Struct validates s and returns an *apperr.Error with per-field messages.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldName(fe)] = fe.Translate(translator)
	}
	return apperr.Validation(fields)
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func Username(value string) bool {
	return usernamePattern.MatchString(value)
}

func Role(value string) bool {
	switch value {
	case model.RoleAdmin, model.RoleTeacher, model.RoleStudent, model.RoleKiosk:
		return true
	}
	return false
}
