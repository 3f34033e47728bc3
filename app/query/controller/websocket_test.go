package controller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCalculateNextBackoff tests the exponential backoff calculation with jitter
func TestCalculateNextBackoff(t *testing.T) {
	tests := []struct {
		name         string
		current      time.Duration
		max          time.Duration
		factor       float64
		jitterFactor float64
		expectMin    time.Duration
		expectMax    time.Duration
	}{
		{
			name:         "initial backoff doubles",
			current:      1 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.1,
			expectMin:    1800 * time.Millisecond, // 2s - 10% jitter
			expectMax:    2200 * time.Millisecond, // 2s + 10% jitter
		},
		{
			name:         "respects maximum",
			current:      20 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.1,
			expectMin:    27 * time.Second, // 30s - 10% jitter
			expectMax:    30 * time.Second, // capped at max
		},
		{
			name:         "no jitter produces exact value",
			current:      5 * time.Second,
			max:          30 * time.Second,
			factor:       2.0,
			jitterFactor: 0.0,
			expectMin:    10 * time.Second, // exactly 2x
			expectMax:    10 * time.Second, // exactly 2x
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Run multiple times to account for randomness in jitter
			for i := 0; i < 10; i++ {
				result := calculateNextBackoff(tt.current, tt.max, tt.factor, tt.jitterFactor)
				assert.GreaterOrEqual(t, result, tt.expectMin, "backoff should be >= minimum")
				assert.LessOrEqual(t, result, tt.expectMax, "backoff should be <= maximum")
			}
		})
	}
}

// TestExtractCommunityIDFromChannel tests parsing community ID from Redis channel names
func TestExtractCommunityIDFromChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		expected string
	}{
		{
			name:     "valid channel format",
			channel:  "airtime:guild-42:session",
			expected: "guild-42",
		},
		{
			name:     "valid channel with underscores",
			channel:  "airtime:guild_local:session",
			expected: "guild_local",
		},
		{
			name:     "invalid format - too few parts",
			channel:  "airtime:session",
			expected: "",
		},
		{
			name:     "invalid format - too many parts",
			channel:  "airtime:guild:extra:session",
			expected: "",
		},
		{
			name:     "empty channel",
			channel:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractCommunityIDFromChannel(tt.channel)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestClientSubscriptions tests the subscription tracking logic
func TestClientSubscriptions(t *testing.T) {
	t.Run("subscribe and check", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("guild-1")
		assert.True(t, subs.isSubscribed("guild-1"))
		assert.False(t, subs.isSubscribed("guild-2"))
	})

	t.Run("wildcard subscription", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("*")
		assert.True(t, subs.isSubscribed("*"))
		assert.True(t, subs.isSubscribed("guild-1"))
		assert.True(t, subs.isSubscribed("guild-2"))
		assert.True(t, subs.isSubscribed("any_guild"))
	})

	t.Run("unsubscribe", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("guild-1")
		assert.True(t, subs.isSubscribed("guild-1"))

		subs.unsubscribe("guild-1")
		assert.False(t, subs.isSubscribed("guild-1"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		subs := newClientSubscriptions()
		done := make(chan bool)

		// Concurrent writes
		go func() {
			for i := 0; i < 100; i++ {
				subs.subscribe("guild-1")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				subs.unsubscribe("guild-1")
			}
			done <- true
		}()

		// Concurrent reads
		go func() {
			for i := 0; i < 100; i++ {
				_ = subs.isSubscribed("guild-1")
			}
			done <- true
		}()

		// Wait for all goroutines
		<-done
		<-done
		<-done

		// Should not panic or race
	})
}

// TestServerMessageSerialization tests JSON serialization of messages
func TestServerMessageSerialization(t *testing.T) {
	tests := []struct {
		name    string
		message ServerMessage
	}{
		{
			name: "session event message",
			message: ServerMessage{
				Type: "session.event",
				Payload: map[string]interface{}{
					"type":         "session_started",
					"community_id": "guild-1",
					"subject_id":   "subject-1",
				},
			},
		},
		{
			name: "error message with reconnect info",
			message: ServerMessage{
				Type: "error",
				Payload: map[string]interface{}{
					"message":     "Redis connection lost, attempting to reconnect...",
					"retryIn":     2.5,
					"attempt":     3,
					"recoverable": true,
				},
			},
		},
		{
			name: "info message",
			message: ServerMessage{
				Type: "info",
				Payload: map[string]interface{}{
					"message": "Redis connection established",
					"attempt": 2,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.message)
			require.NoError(t, err)

			// Verify we can unmarshal back
			var decoded ServerMessage
			err = json.Unmarshal(data, &decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.message.Type, decoded.Type)
		})
	}
}

// TestClientMessageParsing tests parsing of client messages
func TestClientMessageParsing(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    ClientMessage
		wantErr bool
	}{
		{
			name: "subscribe to specific community",
			json: `{"action":"subscribe","communityId":"guild-1"}`,
			want: ClientMessage{
				Action:      "subscribe",
				CommunityID: "guild-1",
			},
		},
		{
			name: "subscribe to all communities",
			json: `{"action":"subscribe","communityId":"*"}`,
			want: ClientMessage{
				Action:      "subscribe",
				CommunityID: "*",
			},
		},
		{
			name: "unsubscribe",
			json: `{"action":"unsubscribe","communityId":"guild-1"}`,
			want: ClientMessage{
				Action:      "unsubscribe",
				CommunityID: "guild-1",
			},
		},
		{
			name:    "invalid json",
			json:    `{invalid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg ClientMessage
			err := json.Unmarshal([]byte(tt.json), &msg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want.Action, msg.Action)
			assert.Equal(t, tt.want.CommunityID, msg.CommunityID)
		})
	}
}
