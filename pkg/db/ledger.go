package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airtimehq/airtime/pkg/db/models"
)

func ledgerColumnList() string {
	return strings.Join(models.ColumnsToNameList(models.LedgerColumns), ", ")
}

// GetLedger returns the latest ledger row for the key, or nil when the subject
// has never been tracked in the community.
func (db *DB) GetLedger(ctx context.Context, communityID, subjectID string) (*models.Ledger, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s FINAL
		WHERE community_id = ? AND subject_id = ?
		LIMIT 1
	`, ledgerColumnList(), models.LedgersTableName)

	var rows []models.Ledger
	if err := db.Select(ctx, &rows, query, communityID, subjectID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertLedger writes the ledger row. ReplacingMergeTree keyed on
// (community_id, subject_id) with the updated_at version collapses this into
// an upsert.
func (db *DB) UpsertLedger(ctx context.Context, l *models.Ledger) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.SessionStart.IsZero() {
		l.SessionStart = time.Unix(0, 0).UTC()
	}
	if l.MonthKey == "" {
		l.MonthKey = models.MonthKeyOf(now)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, models.LedgersTableName, ledgerColumnList())

	return db.Exec(ctx, query,
		l.CommunityID,
		l.SubjectID,
		l.DisplayName,
		l.AvatarRef,
		l.AccumulatedMinutes,
		l.MonthlyMinutes,
		l.MonthKey,
		l.SessionStart,
		l.Active,
		l.LastNotifiedRank,
		l.CreatedAt,
		l.UpdatedAt,
	)
}

// ListLedgers returns every ledger in a community.
func (db *DB) ListLedgers(ctx context.Context, communityID string) ([]models.Ledger, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s FINAL
		WHERE community_id = ?
		ORDER BY accumulated_minutes DESC
	`, ledgerColumnList(), models.LedgersTableName)

	var rows []models.Ledger
	if err := db.Select(ctx, &rows, query, communityID); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActiveLedgers returns ledgers with an open session in a community.
func (db *DB) ListActiveLedgers(ctx context.Context, communityID string) ([]models.Ledger, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s FINAL
		WHERE community_id = ? AND active = 1
	`, ledgerColumnList(), models.LedgersTableName)

	var rows []models.Ledger
	if err := db.Select(ctx, &rows, query, communityID); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCommunities returns the distinct communities holding at least one ledger.
func (db *DB) ListCommunities(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT community_id FROM %s FINAL`, models.LedgersTableName)

	var rows []struct {
		CommunityID string `ch:"community_id"`
	}
	if err := db.Select(ctx, &rows, query); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.CommunityID)
	}
	return out, nil
}

// DeleteLedger removes a ledger row (administrative reset). Role revocation
// happens before this call, at the query API layer.
func (db *DB) DeleteLedger(ctx context.Context, communityID, subjectID string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE community_id = ? AND subject_id = ?
	`, models.LedgersTableName)
	return db.Exec(ctx, query, communityID, subjectID)
}
