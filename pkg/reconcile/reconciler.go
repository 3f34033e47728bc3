// Package reconcile implements the periodic sweep: recover ghost sessions
// against authoritative gateway state, then converge every ledger's tier
// roles and rank notifications onto its effective minutes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/eligibility"
	"github.com/airtimehq/airtime/pkg/notify"
	"github.com/airtimehq/airtime/pkg/presence"
	"github.com/airtimehq/airtime/pkg/ranks"
	"github.com/airtimehq/airtime/pkg/rewards"
	"github.com/airtimehq/airtime/pkg/roles"
	"github.com/airtimehq/airtime/pkg/session"
)

// Reconciler drives the sweep over every tracked community.
type Reconciler struct {
	Store    db.Store
	Tracker  *session.Tracker
	Gateway  presence.Gateway
	Roles    roles.Service
	Notifier notify.Notifier
	Logger   *zap.Logger
	Clock    session.Clock

	// MaxParallel bounds concurrent subject reconciliations per community.
	MaxParallel int
}

func (r *Reconciler) clock() session.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return session.SystemClock{}
}

// SweepAll reconciles every community with at least one ledger. One
// community failing does not abort the others; the first error is returned
// after all communities ran.
func (r *Reconciler) SweepAll(ctx context.Context) error {
	communities, err := r.Store.ListCommunities(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, communityID := range communities {
		if err := r.SweepCommunity(ctx, communityID); err != nil {
			r.Logger.Error("community sweep failed",
				zap.String("community_id", communityID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SweepCommunity reconciles every ledger of one community: ghost recovery
// for active sessions, then role and rank convergence for all ledgers.
// Subjects run in parallel; a failing subject is logged and skipped so the
// rest of the community still converges.
func (r *Reconciler) SweepCommunity(ctx context.Context, communityID string) error {
	cfgRow, err := r.Store.GetRewardConfig(ctx, communityID)
	if err != nil {
		return fmt.Errorf("load reward config: %w", err)
	}
	cfg, err := rewards.FromModel(communityID, cfgRow)
	if err != nil {
		// A malformed config degrades to "no tiers, every channel eligible"
		// so ghost recovery keeps running; grants resume once the row is fixed.
		r.Logger.Error("reward config invalid, sweeping without tiers",
			zap.String("community_id", communityID),
			zap.Error(err))
		cfg = rewards.Empty(communityID)
	}

	ledgers, err := r.Store.ListLedgers(ctx, communityID)
	if err != nil {
		return fmt.Errorf("list ledgers: %w", err)
	}
	if len(ledgers) == 0 {
		return nil
	}

	maxWorkers := r.MaxParallel
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	pool := pond.NewPool(maxWorkers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range ledgers {
		l := ledgers[i]
		group.SubmitErr(func() error {
			if err := r.reconcileSubject(groupCtx, cfg, l); err != nil {
				r.Logger.Warn("subject reconciliation failed",
					zap.String("community_id", communityID),
					zap.String("subject_id", l.SubjectID),
					zap.Error(err))
			}
			// Per-subject failures never abort the community sweep.
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}

	r.Logger.Info("community sweep complete",
		zap.String("community_id", communityID),
		zap.Int("ledgers", len(ledgers)))
	return nil
}

// reconcileSubject handles one ledger: close its session if the gateway says
// the subject is no longer eligible, then converge roles and ranks on the
// resulting effective minutes.
func (r *Reconciler) reconcileSubject(ctx context.Context, cfg rewards.Config, l models.Ledger) error {
	if l.IsActive() {
		snap, err := r.Gateway.FetchState(ctx, l.CommunityID, l.SubjectID)
		if err != nil {
			// Transient gateway trouble. Leave the session open and let the
			// next tick retry rather than closing on bad information.
			r.Logger.Warn("gateway fetch failed, skipping ghost check",
				zap.String("community_id", l.CommunityID),
				zap.String("subject_id", l.SubjectID),
				zap.Error(err))
		} else if !eligibility.Eligible(l.SubjectID, *snap, cfg.AllowedChannels) {
			if _, err := r.Tracker.StopSession(ctx, l.CommunityID, l.SubjectID, true); err != nil {
				return fmt.Errorf("close ghost session: %w", err)
			}
		}
	}

	// Re-read: the ghost stop above or a concurrent live event may have
	// changed the ledger since the listing.
	fresh, err := r.Store.GetLedger(ctx, l.CommunityID, l.SubjectID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return nil
	}

	return r.ApplyResolutions(ctx, cfg, fresh)
}

// ApplyResolutions converges one ledger's tier roles and rank notification
// state onto its effective minutes. Called from the sweep and from the admin
// adjustment path so both converge identically.
func (r *Reconciler) ApplyResolutions(ctx context.Context, cfg rewards.Config, l *models.Ledger) error {
	now := r.clock().Now()
	effective := session.EffectiveMinutes(l, now)

	if err := r.applyTiers(ctx, cfg, l, effective); err != nil {
		return err
	}
	return r.applyRank(ctx, l, effective)
}

func (r *Reconciler) applyTiers(ctx context.Context, cfg rewards.Config, l *models.Ledger, effective uint64) error {
	if len(cfg.Tiers) == 0 {
		return nil
	}

	res := rewards.Resolve(effective, cfg.Tiers)

	// Revokes are restricted to roles the subject actually holds. When the
	// lookup fails we revoke everything anyway; unheld roles are a no-op.
	heldSet := make(map[string]bool)
	heldKnown := false
	if refs, err := r.Roles.Held(ctx, l.CommunityID, l.SubjectID); err != nil {
		r.Logger.Warn("held roles lookup failed, revoking unconditionally",
			zap.String("community_id", l.CommunityID),
			zap.String("subject_id", l.SubjectID),
			zap.Error(err))
	} else {
		heldKnown = true
		for _, ref := range refs {
			heldSet[ref] = true
		}
	}

	if res.Grant != nil {
		status, err := r.Roles.Grant(ctx, l.CommunityID, l.SubjectID, res.Grant.Role)
		switch {
		case roles.IsPermanent(err):
			r.Logger.Error("tier grant permanently failed",
				zap.String("community_id", l.CommunityID),
				zap.String("subject_id", l.SubjectID),
				zap.String("role", res.Grant.Role),
				zap.Error(err))
		case err != nil:
			return fmt.Errorf("grant tier: %w", err)
		case status == roles.StatusApplied:
			r.Logger.Info("tier granted",
				zap.String("community_id", l.CommunityID),
				zap.String("subject_id", l.SubjectID),
				zap.String("tier", res.Grant.Name),
				zap.Uint64("effective_minutes", effective))
		}
	}

	for _, t := range res.Revoke {
		if heldKnown && !heldSet[t.Role] {
			continue
		}
		status, err := r.Roles.Revoke(ctx, l.CommunityID, l.SubjectID, t.Role)
		switch {
		case roles.IsPermanent(err):
			r.Logger.Error("tier revoke permanently failed",
				zap.String("community_id", l.CommunityID),
				zap.String("subject_id", l.SubjectID),
				zap.String("role", t.Role),
				zap.Error(err))
		case err != nil:
			return fmt.Errorf("revoke tier: %w", err)
		case status == roles.StatusApplied:
			r.Logger.Info("tier revoked",
				zap.String("community_id", l.CommunityID),
				zap.String("subject_id", l.SubjectID),
				zap.String("tier", t.Name))
		}
	}

	return nil
}

func (r *Reconciler) applyRank(ctx context.Context, l *models.Ledger, effective uint64) error {
	res, ok := ranks.Resolve(ranks.Table, effective, l.LastNotifiedRank)
	if !ok || !res.Improved {
		return nil
	}

	previous := l.LastNotifiedRank

	// Persist before notifying: a crash in between loses the message,
	// never duplicates it.
	if err := r.Tracker.SetLastNotifiedRank(ctx, l.CommunityID, l.SubjectID, res.Current.Name); err != nil {
		return fmt.Errorf("record notified rank: %w", err)
	}

	if r.Notifier == nil {
		return nil
	}
	if err := r.Notifier.NotifyRankUp(ctx,
		notify.RankUpFor(l.CommunityID, l.SubjectID, l.DisplayName, previous, res.Current, effective)); err != nil {
		r.Logger.Warn("rank up notification failed",
			zap.String("community_id", l.CommunityID),
			zap.String("subject_id", l.SubjectID),
			zap.String("rank", res.Current.Name),
			zap.Error(err))
	}
	return nil
}

// RevokeAll removes every configured tier role from a subject. Used by the
// admin reset path before the ledger row is deleted.
func (r *Reconciler) RevokeAll(ctx context.Context, cfg rewards.Config, communityID, subjectID string) error {
	for _, t := range cfg.Tiers {
		_, err := r.Roles.Revoke(ctx, communityID, subjectID, t.Role)
		if err != nil && !roles.IsPermanent(err) {
			return fmt.Errorf("revoke tier %s: %w", t.Name, err)
		}
	}
	return nil
}

// SweepInterval is how often the scheduled sweep fires.
const SweepInterval = 5 * time.Minute
