package errx

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
)

// Error kinds. Match them with errors.Is; every AppError built by the
// constructors below wraps exactly one of them.
var (
	ErrTemplateNotFound     = errors.New("template not found")
	ErrMissingVariable      = errors.New("missing variable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrTimeout              = errors.New("timeout")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrCheckpointNotFound   = errors.New("checkpoint not found")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// kindError pairs a kind sentinel with the provider or library cause.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func withKind(kind error, cause error, status int, message string) *AppError {
	return New(&kindError{kind: kind, cause: cause}, status, message)
}

// TemplateNotFound reports a prompt template key with no backing file.
func TemplateNotFound(key string) *AppError {
	return withKind(ErrTemplateNotFound, nil, http.StatusNotFound, fmt.Sprintf("prompt template %q", key))
}

// MissingVariable reports placeholders left without a value. Names are
// deduplicated and sorted so the message is stable.
func MissingVariable(key string, names []string) *AppError {
	uniq := make(map[string]struct{}, len(names))
	for _, n := range names {
		uniq[n] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return withKind(ErrMissingVariable, nil, http.StatusBadRequest,
		fmt.Sprintf("prompt template %q needs %s", key, strings.Join(sorted, ", ")))
}

// AuthenticationFailed marks a bad or missing provider key.
func AuthenticationFailed(cause error) *AppError {
	return withKind(ErrAuthenticationFailed, cause, http.StatusUnauthorized, "model provider rejected credentials")
}

// RateLimited marks a provider quota rejection.
func RateLimited(cause error) *AppError {
	return withKind(ErrRateLimited, cause, http.StatusTooManyRequests, "model provider rate limited the request")
}

// Timeout marks a model call that exceeded its deadline.
func Timeout(cause error) *AppError {
	return withKind(ErrTimeout, cause, http.StatusGatewayTimeout, "model provider call timed out")
}

// ProviderUnavailable marks a provider that could not serve the request.
func ProviderUnavailable(cause error) *AppError {
	return withKind(ErrProviderUnavailable, cause, http.StatusServiceUnavailable, "model provider unavailable")
}

// CheckpointNotFound reports a run id with no stored checkpoint.
func CheckpointNotFound(runID string) *AppError {
	return withKind(ErrCheckpointNotFound, nil, http.StatusNotFound, fmt.Sprintf("checkpoint %q", runID))
}

// ExtractionError carries the reason a model response could not be turned
// into a document. Schema mismatches also match ErrSchemaMismatch.
type ExtractionError struct {
	Reason  string
	Missing []string
}

// SchemaMismatchPrefix starts the reason of every schema mismatch.
const SchemaMismatchPrefix = "schema-mismatch: "

// ReasonUnparseable is the reason used when no fallback produced JSON.
const ReasonUnparseable = "unparseable"

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s)", e.Reason)
}

// Is matches the extraction kinds.
func (e *ExtractionError) Is(target error) bool {
	if target == ErrExtractionFailed {
		return true
	}
	return target == ErrSchemaMismatch && len(e.Missing) > 0
}

// ExtractionFailed wraps an ExtractionError with a status.
func ExtractionFailed(reason string) *AppError {
	return New(&ExtractionError{Reason: reason}, http.StatusUnprocessableEntity, "model output rejected")
}

// SchemaMismatch reports required keys absent from an otherwise valid document.
func SchemaMismatch(missing []string) *AppError {
	return New(&ExtractionError{
		Reason:  SchemaMismatchPrefix + strings.Join(missing, ", "),
		Missing: missing,
	}, http.StatusUnprocessableEntity, "model output rejected")
}

// Retryable reports whether repeating the identical call may succeed.
// Assembly errors and credential failures never are.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrMissingVariable):
		return false
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrExtractionFailed):
		return true
	default:
		return false
	}
}

// StatusOf returns the status attached to err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// WrapRedis maps Redis errors to the unified error type with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}
