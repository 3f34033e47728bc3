// Package session owns the per-subject session state machine: idle or
// active, with minutes credited only when an active session stops. All
// mutations of a (community, subject) ledger funnel through a Tracker, which
// serializes them behind a per-pair lock so the live event path and the
// reconciliation sweep can never interleave on the same ledger.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/eligibility"
	"github.com/airtimehq/airtime/pkg/presence"
)

// ErrNotTracked is returned when an operation targets a subject with no
// ledger row.
var ErrNotTracked = errors.New("subject is not tracked")

// TransitionSignal receives session lifecycle notifications. Implementations
// must not block; failures are the implementation's problem, not the
// tracker's.
type TransitionSignal interface {
	SessionStarted(communityID, subjectID string)
	SessionStopped(communityID, subjectID string, minutes uint64, ghost bool)
}

// Tracker applies presence transitions to ledgers.
type Tracker struct {
	store  db.LedgerStore
	logger *zap.Logger
	clock  Clock
	signal TransitionSignal

	locks *xsync.Map[string, *sync.Mutex]
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock, used by tests.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithSignal attaches a transition signal receiver.
func WithSignal(s TransitionSignal) Option {
	return func(t *Tracker) { t.signal = s }
}

// NewTracker builds a Tracker over the given ledger store.
func NewTracker(store db.LedgerStore, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: logger,
		clock:  SystemClock{},
		locks:  xsync.NewMap[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithLock runs fn while holding the (community, subject) lock. The sweep
// uses this to make its read-check-mutate cycle atomic with respect to the
// live event path.
func (t *Tracker) WithLock(communityID, subjectID string, fn func() error) error {
	mu, _ := t.locks.LoadOrStore(communityID+"|"+subjectID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// HandleEvent applies one presence event: eligible subjects get a session
// started, ineligible ones get any open session stopped and credited.
// Returns the minutes credited when a session stopped, zero otherwise.
func (t *Tracker) HandleEvent(ctx context.Context, ev presence.Event, allowedChannels []string) (uint64, error) {
	var credited uint64
	err := t.WithLock(ev.CommunityID, ev.SubjectID, func() error {
		if eligibility.Eligible(ev.SubjectID, ev.Snapshot, allowedChannels) {
			return t.startLocked(ctx, ev)
		}
		var err error
		credited, err = t.stopLocked(ctx, ev.CommunityID, ev.SubjectID, false)
		return err
	})
	return credited, err
}

// StartSession opens a session for the subject. Starting an already active
// session is a no-op. Identity fields on the ledger are refreshed from the
// event on every call.
func (t *Tracker) StartSession(ctx context.Context, ev presence.Event) error {
	return t.WithLock(ev.CommunityID, ev.SubjectID, func() error {
		return t.startLocked(ctx, ev)
	})
}

// StopSession closes any open session for the subject and credits the
// elapsed whole minutes. Stopping an idle subject is a no-op. ghost marks
// the stop as a reconciliation recovery for logging and signaling.
func (t *Tracker) StopSession(ctx context.Context, communityID, subjectID string, ghost bool) (uint64, error) {
	var credited uint64
	err := t.WithLock(communityID, subjectID, func() error {
		var err error
		credited, err = t.stopLocked(ctx, communityID, subjectID, ghost)
		return err
	})
	return credited, err
}

func (t *Tracker) startLocked(ctx context.Context, ev presence.Event) error {
	now := t.clock.Now()

	l, err := t.store.GetLedger(ctx, ev.CommunityID, ev.SubjectID)
	if err != nil {
		return err
	}
	if l == nil {
		l = &models.Ledger{
			CommunityID: ev.CommunityID,
			SubjectID:   ev.SubjectID,
			MonthKey:    models.MonthKeyOf(now),
		}
	}

	identityChanged := l.DisplayName != ev.DisplayName || l.AvatarRef != ev.AvatarRef
	l.DisplayName = ev.DisplayName
	l.AvatarRef = ev.AvatarRef

	if l.IsActive() {
		if l.HasSessionStart() {
			// Already tracking. A redundant event must not touch the row;
			// only a changed display name or avatar is worth a write.
			if identityChanged {
				return t.store.UpsertLedger(ctx, l)
			}
			return nil
		}
		// Active without a start timestamp should not happen. Repair by
		// restarting the session from now rather than inventing elapsed time.
		t.logger.Warn("active ledger missing session start, restarting session",
			zap.String("community_id", ev.CommunityID),
			zap.String("subject_id", ev.SubjectID))
	}

	l.Active = 1
	l.SessionStart = now
	if err := t.store.UpsertLedger(ctx, l); err != nil {
		return err
	}

	t.logger.Info("session started",
		zap.String("community_id", ev.CommunityID),
		zap.String("subject_id", ev.SubjectID),
		zap.String("channel_id", ev.Snapshot.ChannelID))

	if t.signal != nil {
		t.signal.SessionStarted(ev.CommunityID, ev.SubjectID)
	}
	return nil
}

func (t *Tracker) stopLocked(ctx context.Context, communityID, subjectID string, ghost bool) (uint64, error) {
	l, err := t.store.GetLedger(ctx, communityID, subjectID)
	if err != nil {
		return 0, err
	}
	if l == nil || !l.IsActive() {
		return 0, nil
	}

	now := t.clock.Now()
	var minutes uint64
	if l.HasSessionStart() {
		if elapsed := now.Sub(l.SessionStart); elapsed > 0 {
			minutes = uint64(elapsed / time.Minute)
		}
	}

	creditMinutes(l, minutes, now)
	l.ClearSession()
	if err := t.store.UpsertLedger(ctx, l); err != nil {
		return 0, err
	}

	msg := "session stopped"
	if ghost {
		msg = "ghost session closed"
	}
	t.logger.Info(msg,
		zap.String("community_id", communityID),
		zap.String("subject_id", subjectID),
		zap.Uint64("minutes", minutes),
		zap.Uint64("accumulated_minutes", l.AccumulatedMinutes))

	if t.signal != nil {
		t.signal.SessionStopped(communityID, subjectID, minutes, ghost)
	}
	return minutes, nil
}

// AdjustAccumulated applies a signed delta to the lifetime and monthly
// counters, clamping at zero. The monthly counter never exceeds the lifetime
// counter after a negative adjustment.
func (t *Tracker) AdjustAccumulated(ctx context.Context, communityID, subjectID string, delta int64) (*models.Ledger, error) {
	var out *models.Ledger
	err := t.WithLock(communityID, subjectID, func() error {
		l, err := t.store.GetLedger(ctx, communityID, subjectID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrNotTracked
		}

		now := t.clock.Now()
		rollMonth(l, now)

		if delta >= 0 {
			l.AccumulatedMinutes += uint64(delta)
			l.MonthlyMinutes += uint64(delta)
		} else {
			dec := uint64(-delta)
			if dec > l.AccumulatedMinutes {
				l.AccumulatedMinutes = 0
			} else {
				l.AccumulatedMinutes -= dec
			}
			if dec > l.MonthlyMinutes {
				l.MonthlyMinutes = 0
			} else {
				l.MonthlyMinutes -= dec
			}
			if l.MonthlyMinutes > l.AccumulatedMinutes {
				l.MonthlyMinutes = l.AccumulatedMinutes
			}
		}

		if err := t.store.UpsertLedger(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// SetLastNotifiedRank records the rank a notification is about to fire for.
// Persisted before the notification goes out so a crash in between loses the
// message, never duplicates it.
func (t *Tracker) SetLastNotifiedRank(ctx context.Context, communityID, subjectID, rank string) error {
	return t.WithLock(communityID, subjectID, func() error {
		l, err := t.store.GetLedger(ctx, communityID, subjectID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrNotTracked
		}
		l.LastNotifiedRank = rank
		return t.store.UpsertLedger(ctx, l)
	})
}

// creditMinutes adds closed-session minutes to the lifetime and monthly
// counters. The whole session is attributed to the month it stops in; a
// stale monthly bucket is reset first.
func creditMinutes(l *models.Ledger, minutes uint64, now time.Time) {
	rollMonth(l, now)
	l.AccumulatedMinutes += minutes
	l.MonthlyMinutes += minutes
}

func rollMonth(l *models.Ledger, now time.Time) {
	key := models.MonthKeyOf(now)
	if l.MonthKey != key {
		l.MonthKey = key
		l.MonthlyMinutes = 0
	}
}

// EffectiveMinutes is the subject's lifetime minutes including the open
// session, computed at read time and never persisted.
func EffectiveMinutes(l *models.Ledger, now time.Time) uint64 {
	total := l.AccumulatedMinutes
	if l.IsActive() && l.HasSessionStart() {
		if elapsed := now.Sub(l.SessionStart); elapsed > 0 {
			total += uint64(elapsed / time.Minute)
		}
	}
	return total
}

// EffectiveMonthlyMinutes is the current-month counter including the open
// session. A ledger whose stored month key is stale contributes only the
// open-session minutes.
func EffectiveMonthlyMinutes(l *models.Ledger, now time.Time) uint64 {
	var total uint64
	if l.MonthKey == models.MonthKeyOf(now) {
		total = l.MonthlyMinutes
	}
	if l.IsActive() && l.HasSessionStart() {
		if elapsed := now.Sub(l.SessionStart); elapsed > 0 {
			total += uint64(elapsed / time.Minute)
		}
	}
	return total
}
