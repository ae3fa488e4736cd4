package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(value any) error {
	if err := validate.Struct(value); err != nil {
		return ValidationErrorToString(value, err)
	}
	return nil
}

func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return ValidationErrorToString(value, err)
	}
	return nil
}

// ValidationErrorToString flattens validator errors into one readable message.
func ValidationErrorToString(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	lines := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		lines = append(lines, fmt.Sprintf("field '%s' failed rule '%s' (param '%s', got '%v')", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid %T: %s", input, strings.Join(lines, "; "))
}

// BindRequest binds path, query and body values into T and validates it. Both
// failures are 400s carrying a readable message.
func BindRequest[T any](c echo.Context) (T, error) {
	var req T

	if err := c.Bind(&req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return req, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprint(he.Message))
		}
		return req, httperror.WrapError(http.StatusBadRequest, err)
	}

	if err := Validate(req); err != nil {
		return req, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return req, nil
}
