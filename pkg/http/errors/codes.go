package errors

import (
	"net/http"

	"github.com/quizlive/quizlive/internal/remote"
)

// Error codes for standardized error responses that do not originate in the
// store layer.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternalError  = "internal_error"
	ErrCodeNotImplemented = "not_implemented"
)

// StatusFor maps a classified store error to the HTTP status the API
// surfaces it as.
func StatusFor(c remote.Code) int {
	switch c {
	case remote.CodeInvalidArgument:
		return http.StatusBadRequest
	case remote.CodeUnauthenticated:
		return http.StatusUnauthorized
	case remote.CodePermissionDenied:
		return http.StatusForbidden
	case remote.CodeNotFound:
		return http.StatusNotFound
	case remote.CodeAborted, remote.CodeFailedPrecondition:
		return http.StatusConflict
	case remote.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case remote.CodeQuotaExceeded, remote.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case remote.CodeUnavailable, remote.CodeNetworkRequestFailed, remote.CodeOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
