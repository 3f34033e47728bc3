// Package eligibility decides whether a presence snapshot qualifies as
// billable broadcasting time. The single Eligible function is the only
// eligibility rule in the system; both the live event path and the
// reconciliation sweep call it, so the two can never disagree.
package eligibility

import (
	"github.com/airtimehq/airtime/pkg/presence"
)

// Eligible reports whether the subject should be accruing time right now.
//
// The rule: the subject is broadcasting, the channel (or its parent category)
// is on the community allow-list (an empty list allows every channel), and at
// least one human other than the subject occupies the channel.
//
// Pure function: no side effects, identical inputs yield identical results.
func Eligible(subjectID string, snap presence.Snapshot, allowedChannels []string) bool {
	if !snap.Broadcasting {
		return false
	}
	if !channelAllowed(snap.ChannelID, snap.ParentID, allowedChannels) {
		return false
	}
	return HumanViewers(subjectID, snap.Occupants) >= 1
}

// HumanViewers counts non-bot occupants other than the subject.
func HumanViewers(subjectID string, occupants []presence.Occupant) int {
	n := 0
	for _, o := range occupants {
		if o.Bot || o.ID == subjectID {
			continue
		}
		n++
	}
	return n
}

func channelAllowed(channelID, parentID string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if channelID == "" {
		return false
	}
	for _, id := range allowed {
		if id == channelID || (parentID != "" && id == parentID) {
			return true
		}
	}
	return false
}
