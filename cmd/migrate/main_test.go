package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	t.Run("up skips applied", func(t *testing.T) {
		pending, err := pendingMigrations("up", map[string]bool{})
		require.NoError(t, err)
		require.NotEmpty(t, pending)
		assert.Equal(t, "0001_secure_items", pending[0].version)
		assert.Equal(t, "0001_secure_items.up.sql", pending[0].file)

		pending, err = pendingMigrations("up", map[string]bool{"0001_secure_items": true})
		require.NoError(t, err)
		for _, m := range pending {
			assert.NotEqual(t, "0001_secure_items", m.version)
		}
	})

	t.Run("down only reverts applied", func(t *testing.T) {
		pending, err := pendingMigrations("down", map[string]bool{})
		require.NoError(t, err)
		assert.Empty(t, pending)

		pending, err = pendingMigrations("down", map[string]bool{"0001_secure_items": true})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "0001_secure_items.down.sql", pending[0].file)
	})
}
