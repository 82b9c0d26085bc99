package domain

import (
	"github.com/go-playground/validator/v10"
)

// validate checks the struct tags of decoded values.
var validate = validator.New()

// Validate checks v's struct tags.
func Validate(v any) error {
	return validate.Struct(v)
}
