package controller

import (
	"net/http"
	"sort"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/rewards"
)

// HandleConfigGet returns the community's reward configuration. An
// unconfigured community gets the permissive default.
func (c *Controller) HandleConfigGet(w http.ResponseWriter, r *http.Request) {
	communityID := mux.Vars(r)["id"]

	cfg, err := c.communityRewards(r, communityID)
	if err != nil {
		c.App.Logger.Error("Config lookup failed",
			zap.String("community_id", communityID),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "config unavailable"})
		return
	}

	_ = json.NewEncoder(w).Encode(cfg)
}

// HandleConfigPut replaces the community's reward configuration.
func (c *Controller) HandleConfigPut(w http.ResponseWriter, r *http.Request) {
	communityID := mux.Vars(r)["id"]

	var in rewards.Config
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}
	in.CommunityID = communityID
	sort.Slice(in.Tiers, func(i, j int) bool {
		return in.Tiers[i].ThresholdMinutes < in.Tiers[j].ThresholdMinutes
	})

	if err := in.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	if err := c.App.DB.UpsertRewardConfig(r.Context(), in.ToModel()); err != nil {
		c.App.Logger.Error("Config upsert failed",
			zap.String("community_id", communityID),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "config update failed"})
		return
	}

	_ = json.NewEncoder(w).Encode(in)
}
