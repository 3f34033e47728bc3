package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	t.Run("full event", func(t *testing.T) {
		ev, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
			"subject_id":   "s1",
			"display_name": "Streamer",
			"avatar_ref":   "avatars/s1.png",
			"channel_id":   "ch-1",
			"parent_id":    "cat-1",
			"broadcasting": "1",
			"occupants":    `[{"id":"s1"},{"id":"bot-1","bot":true}]`,
		})
		require.NoError(t, err)

		assert.Equal(t, "g1", ev.CommunityID)
		assert.Equal(t, "s1", ev.SubjectID)
		assert.Equal(t, "Streamer", ev.DisplayName)
		assert.Equal(t, "avatars/s1.png", ev.AvatarRef)
		assert.Equal(t, "ch-1", ev.Snapshot.ChannelID)
		assert.Equal(t, "cat-1", ev.Snapshot.ParentID)
		assert.True(t, ev.Snapshot.Broadcasting)
		require.Len(t, ev.Snapshot.Occupants, 2)
		assert.True(t, ev.Snapshot.Occupants[1].Bot)
	})

	t.Run("idle event has zero snapshot", func(t *testing.T) {
		ev, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
			"subject_id":   "s1",
		})
		require.NoError(t, err)
		assert.Equal(t, Snapshot{}, ev.Snapshot)
	})

	t.Run("broadcasting accepts true", func(t *testing.T) {
		ev, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
			"subject_id":   "s1",
			"broadcasting": "true",
		})
		require.NoError(t, err)
		assert.True(t, ev.Snapshot.Broadcasting)
	})

	t.Run("missing community id", func(t *testing.T) {
		_, err := ParseEvent(map[string]interface{}{
			"subject_id": "s1",
		})
		assert.Error(t, err)
	})

	t.Run("missing subject id", func(t *testing.T) {
		_, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
		})
		assert.Error(t, err)
	})

	t.Run("malformed occupants json", func(t *testing.T) {
		_, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
			"subject_id":   "s1",
			"occupants":    "not json",
		})
		assert.Error(t, err)
	})

	t.Run("non string values are ignored", func(t *testing.T) {
		_, err := ParseEvent(map[string]interface{}{
			"community_id": "g1",
			"subject_id":   "s1",
			"channel_id":   42,
		})
		require.NoError(t, err)
	})
}

func TestStreamValuesRoundTrip(t *testing.T) {
	in := Event{
		CommunityID: "g1",
		SubjectID:   "s1",
		DisplayName: "Streamer",
		AvatarRef:   "avatars/s1.png",
		Snapshot: Snapshot{
			ChannelID:    "ch-1",
			ParentID:     "cat-1",
			Broadcasting: true,
			Occupants:    []Occupant{{ID: "s1"}, {ID: "viewer-1"}},
		},
	}

	values, err := in.StreamValues()
	require.NoError(t, err)

	out, err := ParseEvent(values)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
