package inference

import (
	"context"
	"fmt"

	"github.com/example/menu-labeler/internal/labels"
)

// ImageMIMEType is the media type declared for every inline image.
const ImageMIMEType = "image/jpeg"

// Client submits a prompt plus one inline image and returns the reply text.
type Client interface {
	Complete(ctx context.Context, prompt, base64Image string) (string, error)
}

// ServiceError reports a failed call to the inference service.
type ServiceError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %v", labels.ErrService, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", labels.ErrService, e.Err)
}

// Unwrap exposes both the error kind and the underlying cause.
func (e *ServiceError) Unwrap() []error {
	return []error{labels.ErrService, e.Err}
}

// DataURL renders a base64 payload as an inline image URL.
func DataURL(base64Image string) string {
	return "data:" + ImageMIMEType + ";base64," + base64Image
}
