package presence

import (
	"context"
	"encoding/json"
	"fmt"
)

// Occupant is one member currently connected to a voice channel.
type Occupant struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot"`
}

// Snapshot is the voice/broadcast state of one subject at one instant: the
// channel they sit in, its parent category, whether they are broadcasting and
// who else occupies the channel. A subject outside any voice channel is
// represented by the zero Snapshot.
type Snapshot struct {
	ChannelID    string     `json:"channel_id"`
	ParentID     string     `json:"parent_id"`
	Broadcasting bool       `json:"broadcasting"`
	Occupants    []Occupant `json:"occupants"`
}

// Event is one presence/voice update as delivered on the intake stream.
type Event struct {
	CommunityID string
	SubjectID   string
	DisplayName string
	AvatarRef   string
	Snapshot    Snapshot
}

// Gateway fetches the current authoritative voice state for one subject from
// the community platform. Implementations must bound each call with a timeout;
// callers treat errors as transient and retry on the next sweep tick.
type Gateway interface {
	FetchState(ctx context.Context, communityID, subjectID string) (*Snapshot, error)
}

// ParseEvent decodes a presence event from Redis stream entry values.
// Scalar fields arrive as strings; the occupant list is a JSON array.
func ParseEvent(values map[string]interface{}) (Event, error) {
	ev := Event{
		CommunityID: stringValue(values, "community_id"),
		SubjectID:   stringValue(values, "subject_id"),
		DisplayName: stringValue(values, "display_name"),
		AvatarRef:   stringValue(values, "avatar_ref"),
		Snapshot: Snapshot{
			ChannelID: stringValue(values, "channel_id"),
			ParentID:  stringValue(values, "parent_id"),
		},
	}

	if ev.CommunityID == "" || ev.SubjectID == "" {
		return Event{}, fmt.Errorf("presence event missing community_id or subject_id: %v", values)
	}

	switch stringValue(values, "broadcasting") {
	case "1", "true":
		ev.Snapshot.Broadcasting = true
	}

	if raw := stringValue(values, "occupants"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Snapshot.Occupants); err != nil {
			return Event{}, fmt.Errorf("presence event occupants field: %w", err)
		}
	}

	return ev, nil
}

func stringValue(values map[string]interface{}, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// StreamValues encodes an event back into Redis stream entry values. Used by
// the publishing side of the platform bridge and by tests.
func (e Event) StreamValues() (map[string]interface{}, error) {
	occupants, err := json.Marshal(e.Snapshot.Occupants)
	if err != nil {
		return nil, err
	}
	broadcasting := "0"
	if e.Snapshot.Broadcasting {
		broadcasting = "1"
	}
	return map[string]interface{}{
		"community_id": e.CommunityID,
		"subject_id":   e.SubjectID,
		"display_name": e.DisplayName,
		"avatar_ref":   e.AvatarRef,
		"channel_id":   e.Snapshot.ChannelID,
		"parent_id":    e.Snapshot.ParentID,
		"broadcasting": broadcasting,
		"occupants":    string(occupants),
	}, nil
}
