package openai

import (
	"context"
	"errors"
	"net"
	"net/http"

	openaisdk "github.com/openai/openai-go/v3"

	"github.com/callinsights/hub/internal/huberrors"
)

// capabilityError wraps err as an ExternalCapabilityError. Rate limits, 5xx responses,
// timeouts and network errors are transient.
func capabilityError(capability string, err error) error {
	return huberrors.NewExternalCapabilityError(capability, isTransient(err), err)
}

func isTransient(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
