package audit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	orgID, actorID := uuid.New(), uuid.New()

	t.Run("valid entry", func(t *testing.T) {
		entry, err := NewEntry(ActionAdded, orgID, actorID, "+15551234567", "lead_requested")
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, entry.ID)
		assert.Equal(t, ActionAdded, entry.Action)
		assert.Equal(t, orgID, entry.OrganizationID)
		assert.Equal(t, actorID, entry.ActorID)
		assert.False(t, entry.Timestamp.IsZero())
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		_, err := NewEntry(Action("deleted"), orgID, actorID, "+15551234567", "")
		assert.Error(t, err)
	})

	t.Run("rejects nil organization", func(t *testing.T) {
		_, err := NewEntry(ActionRemoved, uuid.Nil, actorID, "+15551234567", "")
		assert.Error(t, err)
	})
}

func TestEntry_WithMetadata(t *testing.T) {
	entry, err := NewEntry(ActionCheckBlocked, uuid.New(), uuid.New(), "+15551234567", "manual")
	require.NoError(t, err)

	entry.WithMetadata("check_method", "verified").WithMetadata("fail_closed", false)

	assert.Equal(t, "verified", entry.Metadata["check_method"])
	assert.Equal(t, false, entry.Metadata["fail_closed"])
}

func TestEntry_IsBlockingDecision(t *testing.T) {
	blocked, err := NewEntry(ActionCheckBlocked, uuid.New(), uuid.New(), "+15551234567", "")
	require.NoError(t, err)
	assert.True(t, blocked.IsBlockingDecision())

	allowed, err := NewEntry(ActionCheckAllowed, uuid.New(), uuid.New(), "+15551234567", "")
	require.NoError(t, err)
	assert.False(t, allowed.IsBlockingDecision())
}
