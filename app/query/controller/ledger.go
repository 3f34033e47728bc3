package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/ranks"
	"github.com/airtimehq/airtime/pkg/rewards"
	"github.com/airtimehq/airtime/pkg/session"
)

// HandleLedgerDetail returns one subject's ledger with computed effective
// minutes and current rank.
func (c *Controller) HandleLedgerDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	communityID, subjectID := vars["id"], vars["subject"]

	l, err := c.App.DB.GetLedger(r.Context(), communityID, subjectID)
	if err != nil {
		c.App.Logger.Error("Ledger lookup failed",
			zap.String("community_id", communityID),
			zap.String("subject_id", subjectID),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ledger unavailable"})
		return
	}
	if l == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "subject not tracked"})
		return
	}

	now := time.Now().UTC()
	effective := session.EffectiveMinutes(l, now)

	resp := map[string]interface{}{
		"ledger":                    l,
		"effective_minutes":         effective,
		"effective_monthly_minutes": session.EffectiveMonthlyMinutes(l, now),
	}
	if res, ok := ranks.Resolve(ranks.Table, effective, ""); ok {
		resp["rank"] = res.Current.Name
		resp["rank_color"] = res.Current.Color
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleAdjust applies a signed minute delta to a subject's counters and
// immediately converges roles and rank state on the new total.
func (c *Controller) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	communityID, subjectID := vars["id"], vars["subject"]

	var in struct {
		DeltaMinutes int64 `json:"delta_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}

	l, err := c.App.Tracker.AdjustAccumulated(r.Context(), communityID, subjectID, in.DeltaMinutes)
	if errors.Is(err, session.ErrNotTracked) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "subject not tracked"})
		return
	}
	if err != nil {
		c.App.Logger.Error("Ledger adjustment failed",
			zap.String("community_id", communityID),
			zap.String("subject_id", subjectID),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "adjustment failed"})
		return
	}

	cfg, err := c.communityRewards(r, communityID)
	if err == nil {
		if err := c.App.Reconciler.ApplyResolutions(r.Context(), cfg, l); err != nil {
			// The adjustment is persisted; the next sweep converges roles.
			c.App.Logger.Warn("Post-adjust convergence failed, sweep will retry",
				zap.String("community_id", communityID),
				zap.String("subject_id", subjectID),
				zap.Error(err))
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ledger":            l,
		"effective_minutes": session.EffectiveMinutes(l, time.Now().UTC()),
	})
}

// HandleReset revokes all configured tier roles from a subject and deletes
// their ledger row.
func (c *Controller) HandleReset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	communityID, subjectID := vars["id"], vars["subject"]

	l, err := c.App.DB.GetLedger(r.Context(), communityID, subjectID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ledger unavailable"})
		return
	}
	if l == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "subject not tracked"})
		return
	}

	cfg, err := c.communityRewards(r, communityID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "reward config unavailable"})
		return
	}

	if err := c.App.Reconciler.RevokeAll(r.Context(), cfg, communityID, subjectID); err != nil {
		c.App.Logger.Error("Role revocation failed during reset",
			zap.String("community_id", communityID),
			zap.String("subject_id", subjectID),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "role revocation failed, ledger not deleted"})
		return
	}

	if err := c.App.DB.DeleteLedger(r.Context(), communityID, subjectID); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ledger deletion failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) communityRewards(r *http.Request, communityID string) (rewards.Config, error) {
	row, err := c.App.DB.GetRewardConfig(r.Context(), communityID)
	if err != nil {
		return rewards.Config{}, err
	}
	return rewards.FromModel(communityID, row)
}
