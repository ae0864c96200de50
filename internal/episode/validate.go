package episode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid marks a job rejected at submission.
var ErrInvalid = errors.New("episode: invalid job")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a normalized job. Every returned error wraps ErrInvalid.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch j.Body.Kind() {
	case KindSingle:
		if strings.TrimSpace(j.Body.Text()) == "" {
			return fmt.Errorf("%w: body is empty", ErrInvalid)
		}
	case KindBulk:
		items := j.Body.Items()
		if len(items) == 0 {
			return fmt.Errorf("%w: bulk body has no items", ErrInvalid)
		}
		for i, it := range items {
			if strings.TrimSpace(it.Content) == "" {
				return fmt.Errorf("%w: bulk item %d is empty", ErrInvalid, i)
			}
		}
	default:
		return fmt.Errorf("%w: body is required", ErrInvalid)
	}

	if len(j.ExtractionHints) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(j.ExtractionHints)); err != nil {
			return fmt.Errorf("%w: extraction_hints is not a valid JSON schema: %v", ErrInvalid, err)
		}
	}

	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
