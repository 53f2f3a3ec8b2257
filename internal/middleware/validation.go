package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	pkgvalidator "github.com/careflow/careflow-api/pkg/validator"
)

// RegisterBindingValidators installs the clinic tags on gin's binding
// validator so query structs can use binding:"date" and binding:"hhmm".
func RegisterBindingValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return pkgvalidator.Register(v)
}
