package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Outcome is the result of checking a record: valid, or invalid with every
// violated constraint.
type Outcome struct {
	Valid   bool
	Reasons []string
}

// ValidOutcome returns a passing Outcome.
func ValidOutcome() Outcome {
	return Outcome{Valid: true}
}

// InvalidOutcome returns a failing Outcome carrying reasons.
func InvalidOutcome(reasons ...string) Outcome {
	return Outcome{Reasons: reasons}
}

// messageTag names the struct tag holding the human readable reason of a
// field's constraints, e.g. `validate:"required" msg:"Name cannot be null"`.
const messageTag = "msg"

// StructValidator checks `validate` struct tags and reports every violation.
type StructValidator struct {
	validate *validator.Validate
	once     sync.Once
}

func NewStructValidator() *StructValidator {
	v := &StructValidator{}
	v.init()
	return v
}

func (v *StructValidator) init() {
	v.once.Do(func() {
		v.validate = validator.New(validator.WithRequiredStructEnabled())
		v.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// Validate checks record, which must be a struct or a pointer to one.
// Reasons follow field declaration order.
func (v *StructValidator) Validate(record any) Outcome {
	v.init()

	err := v.validate.Struct(record)
	if err == nil {
		return ValidOutcome()
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return InvalidOutcome(err.Error())
	}

	typ := reflect.TypeOf(record)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reasons = append(reasons, reason(typ, fe))
	}
	return InvalidOutcome(reasons...)
}

func reason(typ reflect.Type, fe validator.FieldError) string {
	if field, ok := typ.FieldByName(fe.StructField()); ok {
		if msg := field.Tag.Get(messageTag); msg != "" {
			return msg
		}
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed on %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
}
