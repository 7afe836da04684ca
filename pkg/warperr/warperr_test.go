package warperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedSentinelsSurviveErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("warp: patch: %w", ErrStaleState)
	assert.ErrorIs(t, wrapped, ErrStaleState)
	assert.NotErrorIs(t, wrapped, ErrNoState)
}

func TestIsRetryableClassifiesSyncErrors(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrSyncRemote)))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrSyncTimeout)))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrSyncNetwork)))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", ErrSyncProtocol)))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", ErrSyncRemoteURL)))
	assert.False(t, IsRetryable(nil))
}
