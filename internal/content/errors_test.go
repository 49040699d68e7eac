package content

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("publish: %w", Errorf(CodeAuthExpired, "refresh", "no refresh token"))
	require.ErrorIs(t, err, ErrAuthExpired)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, CodeAuthExpired, CodeOf(err))
	require.Equal(t, "AuthExpired: refresh: no refresh token", errors.Unwrap(err).Error())
}

func TestCodeOfUntaggedError(t *testing.T) {
	t.Parallel()

	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.Equal(t, Code(""), CodeOf(nil))
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	require.True(t, IsPermanent(ErrNoIntegrationConfigured))
	require.True(t, IsPermanent(&Error{Code: CodePlatformRejected}))
	require.False(t, IsPermanent(&Error{Code: CodePlatformRejected, Retryable: true}))
	require.False(t, IsPermanent(&Error{Code: CodePlatformUnreachable}))
	require.False(t, IsPermanent(errors.New("timeout")))
}
