package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/segment-uploader/internal/domain"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("path_segment", validatePathSegment)
}

// ValidateEnqueue checks identifiers and local payload paths of an enqueue request.
func ValidateEnqueue(req domain.EnqueueRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", errpkg.ErrInvalidRequest, err)
	}
	return nil
}

// ValidatePublicBaseURL accepts empty or absolute http(s) URLs.
func ValidatePublicBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	if err := validate.Var(raw, "url"); err != nil {
		return fmt.Errorf("invalid public base URL %q: %w", raw, err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid public base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid public base URL %q: scheme must be http or https", raw)
	}
	return nil
}

// validatePathSegment rejects identifiers that would escape their place in
// the remote object path.
func validatePathSegment(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || s == "." || s == ".." {
		return false
	}
	if len(s) > 128 {
		return false
	}
	return !strings.ContainsAny(s, "/\\?#%\x00")
}
