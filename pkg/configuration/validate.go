package configuration

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var fieldCategories = map[string]Category{
	"XmodURL":      CategoryURL,
	"User":         CategoryUser,
	"Password":     CategoryPassword,
	"OutDirectory": CategoryOutDirectory,
	"BaseName":     CategoryBaseName,
	"TimeStr":      CategoryTimeStr,
	"Instance":     CategoryCommand,
}

// Validate reports the first invalid setting as an *Error.
func (c *Configuration) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Category: CategoryUnexpected, Err: err}
	}
	first := verrs[0]
	category, ok := fieldCategories[first.StructField()]
	if !ok {
		category = CategoryUnexpected
	}
	return &Error{
		Category: category,
		Field:    first.Namespace(),
		Err:      errors.Errorf("value %q fails %q", first.Value(), first.Tag()),
	}
}
