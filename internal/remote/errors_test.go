package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quizlive/quizlive/internal/store"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline", context.DeadlineExceeded, CodeDeadlineExceeded},
		{"cancelled", context.Canceled, CodeCancelled},
		{"not found", store.ErrNotFound, CodeNotFound},
		{"invalid path", fmt.Errorf("checking: %w", store.ErrInvalidPath), CodeInvalidArgument},
		{"store closed", store.ErrClosed, CodeConnectionLost},
		{"net timeout", net.Error(timeoutErr{}), CodeDeadlineExceeded},
		{"conn refused", syscall.ECONNREFUSED, CodeNetworkRequestFailed},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), CodeNetworkRequestFailed},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), CodeUnavailable},
		{"redis noauth", errors.New("NOAUTH Authentication required."), CodeUnauthenticated},
		{"redis noperm", errors.New("NOPERM this user has no permissions"), CodePermissionDenied},
		{"redis oom", errors.New("OOM command not allowed when used memory > 'maxmemory'"), CodeResourceExhausted},
		{"wrapped oom", fmt.Errorf("set games/main: %w", errors.New("OOM command not allowed")), CodeResourceExhausted},
		{"boom is not oom", errors.New("boom"), CodeUnknown},
		{"room is not oom", errors.New("connection to room lost"), CodeUnknown},
		{"zoom is not oom", errors.New("zoom failure"), CodeUnknown},
		{"downloading is not loading", errors.New("downloading dataset failed"), CodeUnknown},
		{"unknown", errors.New("something odd"), CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	inner := &Error{Code: CodeQuotaExceeded, Op: "set", Path: "games/main"}
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.Equal(t, CodeQuotaExceeded, Classify(wrapped))
	assert.Equal(t, CodeQuotaExceeded, CodeOf(wrapped))
}

func TestCodeSubsets(t *testing.T) {
	retryable := []Code{
		CodeNetworkRequestFailed, CodeUnavailable, CodeDeadlineExceeded,
		CodeInternal, CodeAborted, CodeCancelled,
	}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), string(c))
	}
	for _, c := range []Code{
		CodePermissionDenied, CodeNotFound, CodeInvalidArgument, CodeInvalidConfig,
		CodeAlreadyExists, CodeUnauthenticated, CodeUnknown, CodeQuotaExceeded,
	} {
		assert.False(t, c.Retryable(), string(c))
	}

	for _, c := range []Code{
		CodePermissionDenied, CodeNotFound, CodeFailedPrecondition,
		CodeUnauthenticated, CodeInvalidConfig,
	} {
		assert.True(t, c.ConfigClass(), string(c))
	}
	assert.False(t, CodeUnavailable.ConfigClass())

	for _, c := range []Code{
		CodeNetworkRequestFailed, CodeUnavailable, CodeDeadlineExceeded, CodeOffline,
	} {
		assert.True(t, c.NetworkClass(), string(c))
	}
	assert.False(t, CodePermissionDenied.NetworkClass())
}

func TestErrorWrapping(t *testing.T) {
	underlying := errors.New("boom")
	err := wrap("set", "games/main", underlying)
	assert.Equal(t, CodeUnknown, err.Code)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "games/main")

	// Re-wrapping keeps the original classification.
	again := wrap("update", "games/main", fmt.Errorf("retrying: %w", err))
	assert.Equal(t, CodeUnknown, again.Code)
	assert.Equal(t, "update", again.Op)
}

func TestGuidanceCoversAllClasses(t *testing.T) {
	for _, c := range []Code{
		CodeInvalidConfig, CodePermissionDenied, CodeNetworkRequestFailed,
		CodeQuotaExceeded, CodeUnknown,
	} {
		g := GuidanceFor(c)
		assert.NotEmpty(t, g.Title, string(c))
		assert.NotEmpty(t, g.Action, string(c))
	}
}
