// Package notify delivers milestone notifications and session transition
// fan-out over Redis.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/ranks"
	"github.com/airtimehq/airtime/pkg/redis"
)

// RankUp is one milestone notification payload. PreviousRank is empty when
// the subject had never been notified before.
type RankUp struct {
	CommunityID      string `json:"community_id"`
	SubjectID        string `json:"subject_id"`
	DisplayName      string `json:"display_name"`
	PreviousRank     string `json:"previous_rank"`
	Rank             string `json:"rank"`
	Color            string `json:"color"`
	EffectiveMinutes uint64 `json:"effective_minutes"`
}

// Notifier publishes rank-up notifications. Delivery is at-most-once; the
// caller persists the notified rank before calling.
type Notifier interface {
	NotifyRankUp(ctx context.Context, n RankUp) error
}

// RedisNotifier appends rank-up notifications to the notification stream for
// the platform bridge to deliver.
type RedisNotifier struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier builds a stream-backed notifier.
func NewRedisNotifier(r *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{redis: r, logger: logger}
}

func (n *RedisNotifier) NotifyRankUp(ctx context.Context, ev RankUp) error {
	id := n.redis.XAdd(ctx, redis.NotificationStream, map[string]interface{}{
		"type":              "rank_up",
		"community_id":      ev.CommunityID,
		"subject_id":        ev.SubjectID,
		"display_name":      ev.DisplayName,
		"previous_rank":     ev.PreviousRank,
		"rank":              ev.Rank,
		"color":             ev.Color,
		"effective_minutes": ev.EffectiveMinutes,
	})
	if id == "" {
		return fmt.Errorf("append to %s failed", redis.NotificationStream)
	}
	n.logger.Info("rank up notification queued",
		zap.String("community_id", ev.CommunityID),
		zap.String("subject_id", ev.SubjectID),
		zap.String("rank", ev.Rank))
	return nil
}

// RankUpFor builds the notification payload from a resolved rank.
func RankUpFor(communityID, subjectID, displayName, previousRank string, r ranks.Rank, effective uint64) RankUp {
	return RankUp{
		CommunityID:      communityID,
		SubjectID:        subjectID,
		DisplayName:      displayName,
		PreviousRank:     previousRank,
		Rank:             r.Name,
		Color:            r.Color,
		EffectiveMinutes: effective,
	}
}
