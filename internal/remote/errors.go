package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/quizlive/quizlive/internal/store"
)

// Code is the closed classification every store failure is mapped onto.
// Internal code matches against these tags only, never against the shape of
// the underlying error.
type Code string

const (
	CodePermissionDenied     Code = "permission-denied"
	CodeNetworkRequestFailed Code = "network-request-failed"
	CodeUnavailable          Code = "unavailable"
	CodeInvalidArgument      Code = "invalid-argument"
	CodeNotFound             Code = "not-found"
	CodeAlreadyExists        Code = "already-exists"
	CodeResourceExhausted    Code = "resource-exhausted"
	CodeFailedPrecondition   Code = "failed-precondition"
	CodeAborted              Code = "aborted"
	CodeOutOfRange           Code = "out-of-range"
	CodeUnimplemented        Code = "unimplemented"
	CodeInternal             Code = "internal"
	CodeDataLoss             Code = "data-loss"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeDeadlineExceeded     Code = "deadline-exceeded"
	CodeCancelled            Code = "cancelled"
	CodeUnknown              Code = "unknown"
	CodeInvalidConfig        Code = "invalid-config"
	CodeConnectionLost       Code = "connection-lost"
	CodeOffline              Code = "offline"
	CodeQuotaExceeded        Code = "quota-exceeded"
)

// Retryable reports whether another attempt can plausibly succeed.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetworkRequestFailed, CodeUnavailable, CodeDeadlineExceeded,
		CodeInternal, CodeAborted, CodeCancelled:
		return true
	}
	return false
}

// ConfigClass reports whether the failure requires operator intervention.
// These never self-resolve, so no retry budget is spent on them.
func (c Code) ConfigClass() bool {
	switch c {
	case CodePermissionDenied, CodeNotFound, CodeFailedPrecondition,
		CodeUnauthenticated, CodeInvalidConfig:
		return true
	}
	return false
}

// NetworkClass reports whether the failure is environmental and expected to
// resolve on its own.
func (c Code) NetworkClass() bool {
	switch c {
	case CodeNetworkRequestFailed, CodeUnavailable, CodeDeadlineExceeded, CodeOffline:
		return true
	}
	return false
}

// Error is the typed wrapper delivered for every terminal remote failure.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the classification from any error chain, defaulting to unknown.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return Classify(err)
}

// Classify maps an underlying failure onto the closed code set. This is the
// single boundary where duck-typed store errors become tagged values.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrInvalidPath):
		return CodeInvalidArgument
	case errors.Is(err, store.ErrClosed):
		return CodeConnectionLost
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeDeadlineExceeded
		}
		return CodeNetworkRequestFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EHOSTUNREACH) {
		return CodeNetworkRequestFailed
	}

	// Server-side conditions surface as text from the redis protocol, and
	// some transport failures only carry a string by the time they get here.
	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "CONNECTION REFUSED"), strings.Contains(msg, "CONNECTION RESET"),
		strings.Contains(msg, "BROKEN PIPE"), strings.Contains(msg, "NO SUCH HOST"):
		return CodeNetworkRequestFailed
	case strings.Contains(msg, "I/O TIMEOUT"):
		return CodeDeadlineExceeded
	case serverReply(msg, "LOADING", "CLUSTERDOWN", "MASTERDOWN", "READONLY"):
		return CodeUnavailable
	case serverReply(msg, "NOAUTH", "WRONGPASS"):
		return CodeUnauthenticated
	case serverReply(msg, "NOPERM"):
		return CodePermissionDenied
	case serverReply(msg, "OOM", "MAXMEMORY"):
		return CodeResourceExhausted
	case serverReply(msg, "EXECABORT"):
		return CodeAborted
	}

	return CodeUnknown
}

// serverReply reports whether msg carries one of the given redis reply codes.
// The server puts the code at the start of the reply, so it must lead msg or
// a wrapped segment of it. Bare substring matching is too loose: "boom"
// contains "OOM".
func serverReply(msg string, codes ...string) bool {
	for _, seg := range strings.Split(msg, ": ") {
		for _, c := range codes {
			if seg == c || strings.HasPrefix(seg, c+" ") {
				return true
			}
		}
	}
	return false
}

// wrap builds the typed error for a terminal failure, reusing an existing
// classification when the chain already carries one.
func wrap(op, path string, err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return &Error{Code: re.Code, Op: op, Path: path, Err: re.Err}
	}
	return &Error{Code: Classify(err), Op: op, Path: path, Err: err}
}

// Guidance is the human-readable rendering of a failure class, used by both
// surfaces when a terminal error has to be shown to someone.
type Guidance struct {
	Title       string
	Description string
	Action      string
}

// GuidanceFor returns display copy for an error class. Players get Action
// text they can follow; the admin surface additionally shows Description.
func GuidanceFor(c Code) Guidance {
	switch {
	case c == CodeInvalidConfig:
		return Guidance{
			Title:       "Service misconfigured",
			Description: "The store endpoint or credentials are missing or malformed.",
			Action:      "Check STORE_ADDR and related settings, then restart.",
		}
	case c.ConfigClass():
		return Guidance{
			Title:       "Store rejected the request",
			Description: "The store denied access or the target does not exist.",
			Action:      "Contact the host; verify store rules and paths in the console.",
		}
	case c.NetworkClass():
		return Guidance{
			Title:       "Connection trouble",
			Description: "The store is unreachable or responding slowly.",
			Action:      "Check your connection and retry.",
		}
	case c == CodeQuotaExceeded || c == CodeResourceExhausted:
		return Guidance{
			Title:       "Store quota exceeded",
			Description: "The store refused the write due to resource limits.",
			Action:      "Wait a moment and retry, or raise the quota.",
		}
	default:
		return Guidance{
			Title:       "Something went wrong",
			Description: "An unexpected error occurred while talking to the store.",
			Action:      "Retry; if it persists, refresh and rejoin.",
		}
	}
}
