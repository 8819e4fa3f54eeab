package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jellyroller/jellyroller/internal/common/uuid"
)

var (
	argValidatorOnce sync.Once
	argValidator     *validator.Validate
)

// V returns the validator used for argument and flag rules.
func V() *validator.Validate {
	argValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		for tag, fn := range map[string]validator.Func{
			"jellyfin_id": jellyfinIDValidator,
			"count":       countValidator,
			"filename":    fileNameValidator,
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(fmt.Sprintf("registering %s validator: %v", tag, err))
			}
		}
		argValidator = v
	})
	return argValidator
}

// jellyfinIDValidator accepts ids in the 32 hex digit form Jellyfin prints, dashed or not.
func jellyfinIDValidator(fl validator.FieldLevel) bool {
	return uuid.IsJellyfinID(fl.Field().String())
}

// countValidator accepts a non-negative decimal integer.
func countValidator(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Field().String())
	return err == nil && n >= 0
}

// fileNameValidator rejects values that could escape a single path segment.
func fileNameValidator(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// checkValue validates value against rule and describes the first failure.
func checkValue(kind, name, value, rule string) error {
	if rule == "" {
		return nil
	}
	err := V().Var(value, rule)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid %s %s: %v", kind, name, err)
	}
	return fmt.Errorf("invalid %s %s %q: %s", kind, name, value, describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "a value is required"
	case "jellyfin_id":
		return "expected a 32 hex digit id"
	case "count":
		return "expected a non-negative integer"
	case "boolean":
		return "expected true or false"
	case "oneof":
		return "expected one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "http_url":
		return "expected an absolute http or https URL"
	case "filename":
		return "expected a plain file name"
	case "max":
		return "longer than " + fe.Param() + " characters"
	}
	return "failed rule " + fe.Tag()
}
