package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestDirLock_SecondHolderIsRefused(t *testing.T) {
	dir := t.TempDir()

	first := NewDirLock(dir)
	require.NoError(t, first.TryLock())
	assert.True(t, first.IsLocked())

	second := NewDirLock(dir)
	err := second.TryLock()
	assert.Equal(t, kberrors.ErrCodeStoreLocked, kberrors.GetCode(err))
	assert.False(t, second.IsLocked())

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
	require.NoError(t, second.Unlock())
}
