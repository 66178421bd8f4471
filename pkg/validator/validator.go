package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// KebabCase matches lowercase alphanumeric tokens joined by single hyphens.
var KebabCase = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

const dateLayout = "2006-01-02"

// IsKebab reports whether s is a valid kebab-case identifier.
func IsKebab(s string) bool {
	return KebabCase.MatchString(s)
}

// Register installs the custom tags on v and makes field names in errors
// follow the json tag.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("kebab", func(fl validator.FieldLevel) bool {
		return IsKebab(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("register kebab: %w", err)
	}
	if err := v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := parseDate(s)
		return err == nil
	}); err != nil {
		return fmt.Errorf("register isodate: %w", err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return nil
}

// New returns a validator with the custom tags registered.
func New() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

// Describe flattens validation errors into a single human readable message.
func Describe(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", e.Field()))
		case "kebab":
			parts = append(parts, fmt.Sprintf("%s must be kebab-case", e.Field()))
		case "isodate":
			parts = append(parts, fmt.Sprintf("%s must be a date in YYYY-MM-DD format", e.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// ParseDate parses a civil date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	return parseDate(strings.TrimSpace(s))
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
