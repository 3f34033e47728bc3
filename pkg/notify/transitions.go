package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/redis"
)

// Transition is the session lifecycle message published to the community
// pub/sub channel for live subscribers.
type Transition struct {
	Type        string `json:"type"`
	CommunityID string `json:"community_id"`
	SubjectID   string `json:"subject_id"`
	Minutes     uint64 `json:"minutes,omitempty"`
	Ghost       bool   `json:"ghost,omitempty"`
}

// TransitionPublisher fans session transitions out over Redis pub/sub. It is
// best-effort: publish failures are logged, never propagated to the tracker.
type TransitionPublisher struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewTransitionPublisher builds a pub/sub backed transition publisher.
func NewTransitionPublisher(r *redis.Client, logger *zap.Logger) *TransitionPublisher {
	return &TransitionPublisher{redis: r, logger: logger}
}

func (p *TransitionPublisher) SessionStarted(communityID, subjectID string) {
	p.publish(Transition{
		Type:        "session_started",
		CommunityID: communityID,
		SubjectID:   subjectID,
	})
}

func (p *TransitionPublisher) SessionStopped(communityID, subjectID string, minutes uint64, ghost bool) {
	p.publish(Transition{
		Type:        "session_stopped",
		CommunityID: communityID,
		SubjectID:   subjectID,
		Minutes:     minutes,
		Ghost:       ghost,
	})
}

func (p *TransitionPublisher) publish(t Transition) {
	payload, err := json.Marshal(t)
	if err != nil {
		p.logger.Error("marshal transition", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.redis.Publish(ctx, redis.SessionChannel(t.CommunityID), string(payload))
}
