package shared

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the engine-wide validator. Domain packages register their own
// field and struct-level rules on it from init.
var Validate = newValidator()

// NotBlankTag rejects strings that are empty after trimming.
const NotBlankTag = "notblank"

func newValidator() *validator.Validate {
	v := validator.New()

	// Use JSON names in messages, falling back to the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(NotBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Violation is the first rule a value broke.
type Violation struct {
	// Field is the JSON name; StructField the Go name.
	Field       string
	StructField string
	Tag         string
	Param       string

	// Kind is one of the validation kinds above, picked from Tag.
	Kind    error
	Message string
}

func (v *Violation) Error() string { return v.Message }

func (v *Violation) Unwrap() error { return v.Kind }

// CheckStruct runs the tag and struct-level rules registered for s and
// returns the first violation, or nil.
func CheckStruct(s any) *Violation {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Violation{Kind: ErrValidation, Message: err.Error()}
	}
	return violationOf(verrs[0], verrs[0].Field())
}

// CheckVar runs tag against a single value. name is used in the message.
func CheckVar(name string, value any, tag string) *Violation {
	err := Validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Violation{Field: name, Kind: ErrValidation, Message: err.Error()}
	}
	return violationOf(verrs[0], name)
}

func violationOf(fe validator.FieldError, name string) *Violation {
	return &Violation{
		Field:       name,
		StructField: fe.StructField(),
		Tag:         fe.Tag(),
		Param:       fe.Param(),
		Kind:        kindOf(fe.Tag(), fe.Param()),
		Message:     messageOf(name, fe),
	}
}

// isRequiredTag covers required, the conditional required_* builtins and
// struct-level rules named the same way.
func isRequiredTag(tag string) bool {
	return tag == NotBlankTag || strings.HasPrefix(tag, "required")
}

func kindOf(tag, param string) error {
	if isRequiredTag(tag) {
		return ErrEmptyValue
	}
	switch tag {
	case "min", "gte":
		if param == "0" {
			return ErrNegativeValue
		}
		return ErrValueOutOfRange
	case "max", "lte", "gt", "lt":
		return ErrValueOutOfRange
	case "oneof":
		return ErrInvalidFormat
	}
	return ErrValidation
}

func messageOf(name string, fe validator.FieldError) string {
	if isRequiredTag(fe.Tag()) {
		return name + " is required"
	}
	switch fe.Tag() {
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s, got %v", name, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}
