// Package ranks maps effective minutes onto the global, purely informational
// rank ladder used for milestone notifications. Ranks never touch external
// roles; they only drive at-most-once "rank up" messages.
package ranks

// Rank is one rung of the global ladder.
type Rank struct {
	ThresholdMinutes uint64 `json:"threshold_minutes"`
	Name             string `json:"name"`
	Color            string `json:"color"`
}

// Table is the global rank ladder, ordered from highest threshold to the
// zero-threshold floor.
var Table = []Rank{
	{ThresholdMinutes: 6000, Name: "Obsidian", Color: "#31204c"},
	{ThresholdMinutes: 3000, Name: "Diamond", Color: "#7ee7f5"},
	{ThresholdMinutes: 1500, Name: "Platinum", Color: "#c7d7e0"},
	{ThresholdMinutes: 600, Name: "Gold", Color: "#e7c232"},
	{ThresholdMinutes: 300, Name: "Silver", Color: "#b8bcc2"},
	{ThresholdMinutes: 60, Name: "Bronze", Color: "#ad7a41"},
	{ThresholdMinutes: 0, Name: "Newcomer", Color: "#9e9e9e"},
}

// Resolution is the outcome of resolving minutes against a rank table.
type Resolution struct {
	Current  Rank
	Improved bool
}

// Resolve returns the current rank for the given effective minutes and
// whether it improves on the last notified rank. ok is false when the table
// has no qualifying entry (malformed table without a zero floor), which
// callers treat as "no rank applicable".
//
// Improvement holds when the current rank sits strictly closer to the top of
// the table than the last notified rank. An unset or unknown last notified
// rank counts as the floor, so the floor itself never fires a notification.
// Idempotent for identical inputs.
func Resolve(table []Rank, effectiveMinutes uint64, lastNotified string) (Resolution, bool) {
	currentIdx := -1
	for i, r := range table {
		if r.ThresholdMinutes <= effectiveMinutes {
			// Table is ordered top-down, so the first qualifier is the
			// highest earned rank.
			currentIdx = i
			break
		}
	}
	if currentIdx < 0 {
		return Resolution{}, false
	}

	res := Resolution{Current: table[currentIdx]}

	// Everyone starts at the floor; unset and unknown both map there.
	lastIdx := len(table) - 1
	for i, r := range table {
		if r.Name == lastNotified {
			lastIdx = i
			break
		}
	}

	res.Improved = currentIdx < lastIdx
	return res, true
}
