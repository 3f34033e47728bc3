package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/presence"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)}
}

func eligibleEvent(communityID, subjectID string) presence.Event {
	return presence.Event{
		CommunityID: communityID,
		SubjectID:   subjectID,
		DisplayName: "Streamer",
		Snapshot: presence.Snapshot{
			ChannelID:    "ch-1",
			Broadcasting: true,
			Occupants: []presence.Occupant{
				{ID: subjectID},
				{ID: "viewer-1"},
			},
		},
	}
}

func idleEvent(communityID, subjectID string) presence.Event {
	ev := eligibleEvent(communityID, subjectID)
	ev.Snapshot = presence.Snapshot{}
	return ev
}

func newTestTracker(t *testing.T) (*Tracker, *db.MemoryStore, *fakeClock) {
	store := db.NewMemoryStore()
	clock := newFakeClock()
	tracker := NewTracker(store, zaptest.NewLogger(t), WithClock(clock))
	return tracker, store, clock
}

func TestStartStopCreditsWholeMinutes(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.IsActive())
	assert.Equal(t, clock.Now(), l.SessionStart)

	clock.Advance(90 * time.Second)

	minutes, err := tracker.StopSession(ctx, "g1", "s1", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), minutes, "90 seconds floors to one minute")

	l, err = store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.False(t, l.IsActive())
	assert.False(t, l.HasSessionStart())
	assert.Equal(t, uint64(1), l.AccumulatedMinutes)
	assert.Equal(t, uint64(1), l.MonthlyMinutes)
}

func TestSubMinuteSessionCreditsNothing(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))
	clock.Advance(45 * time.Second)

	minutes, err := tracker.StopSession(ctx, "g1", "s1", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), minutes)

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), l.AccumulatedMinutes)
	assert.False(t, l.IsActive())
}

func TestStartIsIdempotent(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))
	started := clock.Now()

	clock.Advance(5 * time.Minute)
	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, started, l.SessionStart, "restart must not reset an open session")
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	ctx := context.Background()

	minutes, err := tracker.StopSession(ctx, "g1", "nobody", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), minutes)

	l, err := store.GetLedger(ctx, "g1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, l, "stopping an untracked subject must not create a ledger")
}

func TestHandleEventDrivesStateMachine(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.HandleEvent(ctx, eligibleEvent("g1", "s1"), nil)
	require.NoError(t, err)

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.IsActive())

	clock.Advance(10 * time.Minute)

	credited, err := tracker.HandleEvent(ctx, idleEvent("g1", "s1"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), credited)

	l, err = store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.False(t, l.IsActive())
	assert.Equal(t, uint64(10), l.AccumulatedMinutes)
}

func TestHandleEventIneligibleChannelStops(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	allowed := []string{"ch-1"}
	_, err := tracker.HandleEvent(ctx, eligibleEvent("g1", "s1"), allowed)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)

	moved := eligibleEvent("g1", "s1")
	moved.Snapshot.ChannelID = "ch-2"
	credited, err := tracker.HandleEvent(ctx, moved, allowed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), credited)

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.False(t, l.IsActive())
}

func TestMonthRolloverAttributesToStopMonth(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	// Session opens at the end of August.
	clock.now = time.Date(2026, 8, 31, 23, 50, 0, 0, time.UTC)
	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))

	// Seed some pre-existing August minutes.
	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	l.AccumulatedMinutes = 100
	l.MonthlyMinutes = 100
	require.NoError(t, store.UpsertLedger(ctx, l))

	// The session crosses midnight into September.
	clock.now = time.Date(2026, 9, 1, 0, 10, 0, 0, time.UTC)
	minutes, err := tracker.StopSession(ctx, "g1", "s1", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), minutes)

	l, err = store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(120), l.AccumulatedMinutes, "lifetime total keeps everything")
	assert.Equal(t, uint64(20), l.MonthlyMinutes, "whole session lands in the stop month")
	assert.Equal(t, "2026-09", l.MonthKey)
}

func TestAdjustAccumulated(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	ctx := context.Background()

	t.Run("untracked subject", func(t *testing.T) {
		_, err := tracker.AdjustAccumulated(ctx, "g1", "ghost", 10)
		assert.ErrorIs(t, err, ErrNotTracked)
	})

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))
	_, err := tracker.StopSession(ctx, "g1", "s1", false)
	require.NoError(t, err)

	t.Run("positive delta", func(t *testing.T) {
		l, err := tracker.AdjustAccumulated(ctx, "g1", "s1", 50)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), l.AccumulatedMinutes)
		assert.Equal(t, uint64(50), l.MonthlyMinutes)
	})

	t.Run("negative delta clamps at zero", func(t *testing.T) {
		l, err := tracker.AdjustAccumulated(ctx, "g1", "s1", -500)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), l.AccumulatedMinutes)
		assert.Equal(t, uint64(0), l.MonthlyMinutes)
	})

	t.Run("persisted", func(t *testing.T) {
		l, err := store.GetLedger(ctx, "g1", "s1")
		require.NoError(t, err)
		require.NotNil(t, l)
		assert.Equal(t, uint64(0), l.AccumulatedMinutes)
	})
}

func TestSetLastNotifiedRank(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.SetLastNotifiedRank(ctx, "g1", "ghost", "Bronze"), ErrNotTracked)

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))
	require.NoError(t, tracker.SetLastNotifiedRank(ctx, "g1", "s1", "Bronze"))

	l, err := store.GetLedger(ctx, "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", l.LastNotifiedRank)
}

func TestEffectiveMinutes(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	t.Run("idle ledger", func(t *testing.T) {
		l := &models.Ledger{AccumulatedMinutes: 40}
		assert.Equal(t, uint64(40), EffectiveMinutes(l, now))
	})

	t.Run("open session adds elapsed minutes", func(t *testing.T) {
		l := &models.Ledger{
			AccumulatedMinutes: 40,
			Active:             1,
			SessionStart:       now.Add(-25 * time.Minute),
		}
		assert.Equal(t, uint64(65), EffectiveMinutes(l, now))
	})

	t.Run("monthly counter ignores stale month", func(t *testing.T) {
		l := &models.Ledger{
			MonthlyMinutes: 99,
			MonthKey:       "2026-07",
			Active:         1,
			SessionStart:   now.Add(-10 * time.Minute),
		}
		assert.Equal(t, uint64(10), EffectiveMonthlyMinutes(l, now))
	})

	t.Run("monthly counter includes current month", func(t *testing.T) {
		l := &models.Ledger{
			MonthlyMinutes: 30,
			MonthKey:       models.MonthKeyOf(now),
		}
		assert.Equal(t, uint64(30), EffectiveMonthlyMinutes(l, now))
	})
}

type recordingSignal struct {
	started []string
	stopped []string
	ghosts  []bool
}

func (r *recordingSignal) SessionStarted(communityID, subjectID string) {
	r.started = append(r.started, communityID+"/"+subjectID)
}

func (r *recordingSignal) SessionStopped(communityID, subjectID string, minutes uint64, ghost bool) {
	r.stopped = append(r.stopped, communityID+"/"+subjectID)
	r.ghosts = append(r.ghosts, ghost)
}

func TestTransitionSignal(t *testing.T) {
	store := db.NewMemoryStore()
	clock := newFakeClock()
	sig := &recordingSignal{}
	tracker := NewTracker(store, zaptest.NewLogger(t), WithClock(clock), WithSignal(sig))
	ctx := context.Background()

	require.NoError(t, tracker.StartSession(ctx, eligibleEvent("g1", "s1")))
	clock.Advance(time.Minute)
	_, err := tracker.StopSession(ctx, "g1", "s1", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"g1/s1"}, sig.started)
	assert.Equal(t, []string{"g1/s1"}, sig.stopped)
	assert.Equal(t, []bool{true}, sig.ghosts)
}
