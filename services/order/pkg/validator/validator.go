package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Validator interface {
	ValidateStruct(s any) error
}

type orderValidator struct {
	validate *validator.Validate
}

// NewValidator reports fields by their json names and validates
// decimal.Decimal fields as numbers, so `gte=0` works on prices.
func NewValidator() Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return &orderValidator{validate: v}
}

func (o *orderValidator) ValidateStruct(s any) error {
	return o.validate.Struct(s)
}
