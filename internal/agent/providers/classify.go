package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"

	errx "github.com/coursegen-core/server/internal/core/error"
	"google.golang.org/genai"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *StatusError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// classifyStatus maps a provider status code to an error kind.
func classifyStatus(code int, cause error) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errx.AuthenticationFailed(cause)
	case code == http.StatusTooManyRequests:
		return errx.RateLimited(cause)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return errx.Timeout(cause)
	case code >= 500:
		return errx.ProviderUnavailable(cause)
	default:
		return fmt.Errorf("model request rejected: %w", cause)
	}
}

// classifyTransport maps errors raised before a status was received.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errx.Timeout(err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("model request canceled: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errx.Timeout(err)
	}
	return errx.ProviderUnavailable(err)
}

var genaiCodePattern = regexp.MustCompile(`Error (\d{3}),`)

// classifyGemini maps genai client errors, which may reach us wrapped by the
// chat model with or without %w.
func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return classifyStatus(apiErr.Code, err)
	}
	if m := genaiCodePattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return classifyStatus(code, err)
		}
	}
	return classifyTransport(err)
}
