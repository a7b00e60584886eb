package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(CodeOffline, "device is offline")
	require.Equal(t, "[OFFLINE] device is offline", err.Error())

	wrapped := Wrap(CodeStorageUnavailable, "open store", errors.New("disk full"))
	require.Equal(t, "[STORAGE_UNAVAILABLE] open store: disk full", wrapped.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("drain: %w", Wrap(CodeStorageUnavailable, "read queue", errors.New("io")))

	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.NotErrorIs(t, err, ErrOffline)
	require.True(t, Is(err, CodeStorageUnavailable))
	require.False(t, Is(err, CodeNotFound))
}

func TestIsFollowsNestedCodes(t *testing.T) {
	inner := Wrap(CodeTimeout, "gateway call", errors.New("deadline"))
	outer := Wrap(CodeRemote, "update task", inner)

	require.True(t, Is(outer, CodeRemote))
	require.True(t, Is(outer, CodeTimeout))
	require.Equal(t, CodeRemote, CodeOf(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.False(t, Is(nil, CodeInternal))
}
