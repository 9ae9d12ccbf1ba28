package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// Validator checks decoded request bodies against their validate tags and
// reports failures by JSON field name
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with the resolution and symbol rules registered
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("resolution", isResolution)
	_ = v.RegisterValidation("symbol", isSymbol)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct returns an APIError listing every failed field
func (m *Validator) ValidateStruct(v interface{}) error {
	err := m.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	out := make([]apierrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Namespace(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(out)
}

// ContentTypeValidator rejects bodies that are not one of contentTypes
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead ||
				r.Method == http.MethodDelete || r.Method == http.MethodOptions || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ct := r.Header.Get("Content-Type")
			for _, allowed := range contentTypes {
				if strings.HasPrefix(ct, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}
			reject(w, r, http.StatusUnsupportedMediaType,
				fmt.Sprintf("content type %q is not one of %s", ct, strings.Join(contentTypes, ", ")))
		})
	}
}

// MaxBodySize caps request bodies at n bytes
func MaxBodySize(n int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				reject(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", n))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	case "resolution":
		return fmt.Sprintf("%s must be one of: %s", field, resolutionLabels())
	case "symbol":
		return fmt.Sprintf("%s must be a valid instrument symbol", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

func resolutionLabels() string {
	labels := make([]string, len(domain.AllResolutions))
	for i, r := range domain.AllResolutions {
		labels[i] = r.String()
	}
	return strings.Join(labels, ", ")
}

func isResolution(fl validator.FieldLevel) bool {
	_, err := domain.ParseResolution(fl.Field().String())
	return err == nil
}

// isSymbol accepts exchange symbols such as BTCUSDT or BTCUSDT.P
func isSymbol(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) < 1 || len(s) > 32 {
		return false
	}
	for _, ch := range s {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '.' || ch == '-' || ch == '_' || ch == '/') {
			return false
		}
	}
	return true
}

// QueryParamValidator parses query parameters, reporting bad values through
// the error handler
type QueryParamValidator struct {
	errorHandler *apierrors.ErrorHandler
}

// NewQueryParamValidator creates a new query parameter validator
func NewQueryParamValidator(errorHandler *apierrors.ErrorHandler) *QueryParamValidator {
	return &QueryParamValidator{errorHandler: errorHandler}
}

// ValidateInt parses an integer parameter within [min, max]
func (v *QueryParamValidator) ValidateInt(w http.ResponseWriter, r *http.Request, param string, min, max, defaultValue int) (int, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, param+" must be a valid integer"))
		return 0, false
	}
	if n < min || n > max {
		v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, fmt.Sprintf("%s must be between %d and %d", param, min, max)))
		return 0, false
	}
	return n, true
}

// ValidateFloat parses a required float parameter
func (v *QueryParamValidator) ValidateFloat(w http.ResponseWriter, r *http.Request, param string) (float64, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, param+" is required"))
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, param+" must be a number"))
		return 0, false
	}
	return f, true
}

// ValidateEnum checks a parameter against the allowed values
func (v *QueryParamValidator) ValidateEnum(w http.ResponseWriter, r *http.Request, param string, allowed []string, defaultValue string) (string, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}
	for _, a := range allowed {
		if value == a {
			return value, true
		}
	}
	v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", "))))
	return "", false
}
