package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"sharebox/internal/domain/entity"
)

type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator returns the echo validator with the request_status rule
// registered.
func NewValidator() *CustomValidator {
	v := validator.New()
	v.RegisterValidation("request_status", func(fl validator.FieldLevel) bool {
		return entity.RequestStatus(fl.Field().String()).Valid()
	})
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &CustomValidator{validator: v}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
