package models

import (
	"time"
)

const LedgersTableName = "ledgers"

// LedgerColumns defines the schema for the ledgers table.
// Table: ReplacingMergeTree(updated_at) ORDER BY (community_id, subject_id)
var LedgerColumns = []ColumnDef{
	{Name: "community_id", Type: "String"},
	{Name: "subject_id", Type: "String"},
	{Name: "display_name", Type: "String"},
	{Name: "avatar_ref", Type: "String"},
	{Name: "accumulated_minutes", Type: "UInt64"},
	{Name: "monthly_minutes", Type: "UInt64"},
	{Name: "month_key", Type: "String"},
	{Name: "session_start", Type: "DateTime"},
	{Name: "active", Type: "UInt8"},
	{Name: "last_notified_rank", Type: "String"},
	{Name: "created_at", Type: "DateTime"},
	{Name: "updated_at", Type: "DateTime"},
}

// Ledger is the authoritative per-(community, subject) activity record.
//
// Invariant: Active == 1 implies SessionStart is a real timestamp; Active == 0
// implies SessionStart is the epoch zero value. Effective minutes are never
// stored; they are recomputed at read time from AccumulatedMinutes plus the
// in-progress session elapsed time.
type Ledger struct {
	CommunityID        string    `json:"community_id" ch:"community_id"`
	SubjectID          string    `json:"subject_id" ch:"subject_id"`
	DisplayName        string    `json:"display_name" ch:"display_name"`
	AvatarRef          string    `json:"avatar_ref" ch:"avatar_ref"`
	AccumulatedMinutes uint64    `json:"accumulated_minutes" ch:"accumulated_minutes"`
	MonthlyMinutes     uint64    `json:"monthly_minutes" ch:"monthly_minutes"`
	MonthKey           string    `json:"month_key" ch:"month_key"`
	SessionStart       time.Time `json:"session_start" ch:"session_start"`
	Active             uint8     `json:"active" ch:"active"`
	LastNotifiedRank   string    `json:"last_notified_rank" ch:"last_notified_rank"`
	CreatedAt          time.Time `json:"created_at" ch:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" ch:"updated_at"`
}

// IsActive reports whether the ledger has an open session.
func (l *Ledger) IsActive() bool { return l.Active == 1 }

// HasSessionStart reports whether SessionStart carries a real timestamp.
func (l *Ledger) HasSessionStart() bool {
	return !l.SessionStart.IsZero() && l.SessionStart.Unix() > 0
}

// ClearSession resets the ledger to the idle state.
func (l *Ledger) ClearSession() {
	l.Active = 0
	l.SessionStart = time.Unix(0, 0).UTC()
}

// MonthKeyOf formats the monthly-bucket key for a point in time, e.g. "2026-08".
func MonthKeyOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
