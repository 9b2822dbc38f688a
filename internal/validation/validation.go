// Package validation wraps go-playground/validator with the field-error shape
// returned by the section editors.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldErrors maps a json field name to an inline message.
type FieldErrors map[string]string

// Empty reports whether no field failed.
func (f FieldErrors) Empty() bool { return len(f) == 0 }

// Merge copies other into f, keeping existing messages.
func (f FieldErrors) Merge(other FieldErrors) FieldErrors {
	if f == nil {
		f = FieldErrors{}
	}
	for k, v := range other {
		if _, ok := f[k]; !ok {
			f[k] = v
		}
	}
	return f
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var (
	validate *validator.Validate
	mu       sync.RWMutex
	messages = map[string]string{
		"required": "is required",
		"gte":      "must be at least %s",
		"lte":      "must be at most %s",
		"gt":       "must be greater than %s",
		"min":      "must have at least %s items",
		"max":      "must be at most %s characters",
		"oneof":    "must be one of %s",
		"datetime": "must be a date in %s format",
		"phone":    "must be a valid phone number",
	}
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
}

// RegisterRule adds a custom tag with its inline message. Packages call it
// from init so the tag is available before the first Struct call.
func RegisterRule(tag, message string, fn validator.Func) {
	mu.Lock()
	defer mu.Unlock()
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
	messages[tag] = message
}

// Struct validates s and returns per-field messages, or nil when valid.
func Struct(s interface{}) FieldErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	mu.RLock()
	msg, ok := messages[fe.Tag()]
	mu.RUnlock()
	if !ok {
		return "is invalid"
	}
	if !strings.Contains(msg, "%s") {
		return msg
	}
	param := fe.Param()
	if fe.Tag() == "oneof" {
		param = strings.Join(strings.Fields(param), ", ")
	}
	return strings.Replace(msg, "%s", param, 1)
}
