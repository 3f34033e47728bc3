package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/airtimehq/airtime/pkg/db/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It applies the same upsert normalization as the ClickHouse store.
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]models.Ledger       // key: community|subject
	configs map[string]models.RewardConfig // key: community
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[string]models.Ledger),
		configs: make(map[string]models.RewardConfig),
	}
}

func ledgerKey(communityID, subjectID string) string {
	return communityID + "|" + subjectID
}

func (m *MemoryStore) GetLedger(_ context.Context, communityID, subjectID string) (*models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[ledgerKey(communityID, subjectID)]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (m *MemoryStore) UpsertLedger(_ context.Context, l *models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

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

	m.ledgers[ledgerKey(l.CommunityID, l.SubjectID)] = *l
	return nil
}

func (m *MemoryStore) ListLedgers(_ context.Context, communityID string) ([]models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Ledger
	for _, l := range m.ledgers {
		if l.CommunityID == communityID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccumulatedMinutes > out[j].AccumulatedMinutes
	})
	return out, nil
}

func (m *MemoryStore) ListActiveLedgers(_ context.Context, communityID string) ([]models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Ledger
	for _, l := range m.ledgers {
		if l.CommunityID == communityID && l.IsActive() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListCommunities(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	for _, l := range m.ledgers {
		if !seen[l.CommunityID] {
			seen[l.CommunityID] = true
			out = append(out, l.CommunityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) DeleteLedger(_ context.Context, communityID, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ledgers, ledgerKey(communityID, subjectID))
	return nil
}

func (m *MemoryStore) GetRewardConfig(_ context.Context, communityID string) (*models.RewardConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[communityID]
	if !ok {
		return nil, nil
	}
	cp := cfg
	return &cp, nil
}

func (m *MemoryStore) UpsertRewardConfig(_ context.Context, cfg *models.RewardConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	m.configs[cfg.CommunityID] = *cfg
	return nil
}
