package runs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/scoring"
)

// MemoryStore is an in-memory implementation of Store. It backs the server
// when DATABASE_URL is not set, and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	scores map[string][]scoring.ScoreRecord // runID -> scores in input order
}

// NewMemoryStore creates a new in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*Run),
		scores: make(map[string][]scoring.ScoreRecord),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// CreateRun stores a new run
func (m *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy := *run
	copy.Wallets = append([]string(nil), run.Wallets...)
	m.runs[run.ID] = &copy
	return nil
}

// GetRun retrieves a run by ID
func (m *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copy := *run
	copy.Wallets = append([]string(nil), run.Wallets...)
	return &copy, nil
}

// UpdateRun updates a run's status fields
func (m *MemoryStore) UpdateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	copy := *run
	copy.Wallets = append([]string(nil), run.Wallets...)
	m.runs[run.ID] = &copy
	return nil
}

// ListRuns returns runs newest first, starting after the cursor.
func (m *MemoryStore) ListRuns(ctx context.Context, limit int, after *pagination.Cursor) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		copy := *run
		copy.Wallets = append([]string(nil), run.Wallets...)
		all = append(all, &copy)
	}

	// Newest first, ID as tiebreaker for a stable order.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if after != nil {
		start := 0
		for i, run := range all {
			if run.CreatedAt.Before(after.CreatedAt) ||
				(run.CreatedAt.Equal(after.CreatedAt) && run.ID < after.ID) {
				start = i
				break
			}
			start = len(all)
		}
		all = all[start:]
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SaveScores stores the scores for a run
func (m *MemoryStore) SaveScores(ctx context.Context, runID string, scores []scoring.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return ErrRunNotFound
	}
	m.scores[runID] = append([]scoring.ScoreRecord(nil), scores...)
	return nil
}

// ListScores returns a run's scores in input order
func (m *MemoryStore) ListScores(ctx context.Context, runID string) ([]scoring.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	return append([]scoring.ScoreRecord(nil), m.scores[runID]...), nil
}

// ListWalletScores returns a wallet's score history across runs, newest first
func (m *MemoryStore) ListWalletScores(ctx context.Context, address string, limit int) ([]WalletScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(address)
	var history []WalletScore
	for runID, scores := range m.scores {
		for _, sc := range scores {
			if strings.ToLower(sc.WalletID) == addr {
				history = append(history, WalletScore{
					RunID:    runID,
					Address:  sc.WalletID,
					Score:    sc.Score,
					ScoredAt: sc.ScoredAt,
				})
			}
		}
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].ScoredAt.After(history[j].ScoredAt)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}
