// Package validator configures go-playground/validator with the tags used by
// request payloads.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/careflow/careflow-api/internal/model"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

// Register adds the hhmm and date tags and reports json field names.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("hhmm", validateClock); err != nil {
		return err
	}
	if err := v.RegisterValidation("date", validateDate); err != nil {
		return err
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return nil
}

func New() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

func validateClock(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := model.ParseClock(s)
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case string:
		_, err := model.ParseDate(v)
		return err == nil
	case model.Date:
		return !v.IsZero()
	default:
		return false
	}
}

// Struct validates s and flattens field errors into one ValidationError.
func Struct(v *validator.Validate, s interface{}) error {
	return FromError(v.Struct(s))
}

// FromError flattens validator field errors, including those produced by gin
// binding, into one ValidationError.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidation(err.Error(), err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, Message(fe))
	}
	return apperrors.NewValidation(strings.Join(msgs, "; "), err)
}

// Message renders one field error for API consumers.
func Message(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "hhmm":
		return field + " must be a 24-hour HH:MM time"
	case "date":
		return field + " must be a YYYY-MM-DD date"
	case "uuid":
		return field + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
