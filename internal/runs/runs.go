// Package runs orchestrates wallet risk scoring runs.
//
// A run takes a batch of wallet addresses, pulls each wallet's transaction
// history, derives lending-risk features, and scores the whole batch in one
// pass. Scores are relative to the batch: the same wallet can score
// differently in different runs, so scores are always stored and served
// with their run ID.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/walletrisk/internal/etherscan"
	"github.com/mbd888/walletrisk/internal/features"
	"github.com/mbd888/walletrisk/internal/idgen"
	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/realtime"
	"github.com/mbd888/walletrisk/internal/scoring"
	"github.com/mbd888/walletrisk/internal/syncutil"
	"github.com/mbd888/walletrisk/internal/traces"
	"github.com/mbd888/walletrisk/internal/validation"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrEmptyWalletList = errors.New("wallet list is empty")
	ErrTooManyWallets  = errors.New("wallet list exceeds batch limit")
	ErrDuplicateWallet = errors.New("duplicate wallet address")
	ErrInvalidAddress  = errors.New("invalid wallet address")
	ErrRunNotFinished  = errors.New("run has not finished")
)

// RunStatus tracks run state
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run represents one batch scoring run
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Wallets     []string   `json:"wallets,omitempty"`
	WalletCount int        `json:"walletCount"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WalletScore is one wallet's score in one run, for cross-run history queries.
type WalletScore struct {
	RunID    string    `json:"runId"`
	Address  string    `json:"address"`
	Score    int       `json:"score"`
	ScoredAt time.Time `json:"scoredAt"`
}

// Store persists runs and their scores
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	// ListRuns returns up to limit runs, newest first, starting after the
	// cursor position (nil cursor starts from the newest run).
	ListRuns(ctx context.Context, limit int, after *pagination.Cursor) ([]*Run, error)

	SaveScores(ctx context.Context, runID string, scores []scoring.ScoreRecord) error
	ListScores(ctx context.Context, runID string) ([]scoring.ScoreRecord, error)
	ListWalletScores(ctx context.Context, address string, limit int) ([]WalletScore, error)
}

// TxFetcher pulls a wallet's transaction history.
type TxFetcher interface {
	TxList(ctx context.Context, address string) ([]etherscan.Transaction, error)
}

// EventPublisher pushes run lifecycle events to subscribers. *realtime.Hub
// satisfies this.
type EventPublisher interface {
	BroadcastRunEvent(eventType realtime.EventType, data map[string]interface{})
}

// Service coordinates fetch, feature extraction, and scoring for runs.
type Service struct {
	store       Store
	fetcher     TxFetcher
	events      EventPublisher
	concurrency int
	maxBatch    int

	// execLocks serializes ExecuteRun per run ID so a run is never
	// executed twice concurrently.
	execLocks *syncutil.ContextShardedMutex
}

// NewService creates a run service. events may be nil when no realtime hub
// is wired (the CLI does this).
func NewService(store Store, fetcher TxFetcher, events EventPublisher, concurrency, maxBatch int) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &Service{
		store:       store,
		fetcher:     fetcher,
		events:      events,
		concurrency: concurrency,
		maxBatch:    maxBatch,
		execLocks:   syncutil.NewContextShardedMutex(),
	}
}

// Store returns the underlying store (for listing etc.)
func (s *Service) Store() Store {
	return s.store
}

// CreateRun validates the wallet batch and persists a pending run.
// Addresses are normalized to lowercase; duplicates after normalization
// are rejected.
func (s *Service) CreateRun(ctx context.Context, wallets []string) (*Run, error) {
	if len(wallets) == 0 {
		return nil, ErrEmptyWalletList
	}
	if len(wallets) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d wallets, limit %d", ErrTooManyWallets, len(wallets), s.maxBatch)
	}

	normalized := make([]string, len(wallets))
	seen := make(map[string]bool, len(wallets))
	for i, w := range wallets {
		addr := validation.SanitizeAddress(w)
		if !validation.IsValidEthAddress(addr) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, w)
		}
		if seen[addr] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWallet, addr)
		}
		seen[addr] = true
		normalized[i] = addr
	}

	run := &Run{
		ID:          idgen.WithPrefix("run_"),
		Status:      StatusPending,
		Wallets:     normalized,
		WalletCount: len(normalized),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// StartRun creates a run and executes it in the background. The returned run
// is still pending; poll GET /v1/runs/:id or subscribe over WebSocket.
func (s *Service) StartRun(ctx context.Context, wallets []string) (*Run, error) {
	run, err := s.CreateRun(ctx, wallets)
	if err != nil {
		return nil, err
	}

	// The run outlives the HTTP request that started it.
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.ExecuteRun(bg, run.ID); err != nil {
			logging.L(bg).Error("run execution failed", "run_id", run.ID, "error", err)
		}
	}()

	return run, nil
}

// ExecuteRun runs the full pipeline for a pending run: fetch histories,
// extract features, score the batch, persist scores. A wallet whose fetch
// fails is scored from an empty history rather than failing the whole run.
func (s *Service) ExecuteRun(ctx context.Context, runID string) (*Run, error) {
	unlock, err := s.execLocks.LockContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusPending {
		return nil, fmt.Errorf("run %s already %s", runID, run.Status)
	}

	ctx, span := traces.StartSpan(ctx, "runs.execute",
		traces.RunID(run.ID), traces.WalletCount(run.WalletCount))
	defer span.End()

	started := time.Now().UTC()
	run.Status = StatusRunning
	run.StartedAt = &started
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	s.publish(realtime.EventRunStarted, map[string]interface{}{
		"runId":       run.ID,
		"walletCount": run.WalletCount,
	})
	logging.L(ctx).Info("run started", "run_id", run.ID, "wallets", run.WalletCount)

	records, err := s.collectFeatures(ctx, run)
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	scores, err := scoring.Score(records)
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	if err := s.store.SaveScores(ctx, run.ID, scores); err != nil {
		return s.failRun(ctx, run, err)
	}

	completed := time.Now().UTC()
	run.Status = StatusCompleted
	run.CompletedAt = &completed
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.WalletsScoredTotal.Add(float64(len(scores)))
	metrics.RunDuration.Observe(completed.Sub(started).Seconds())
	for _, sc := range scores {
		metrics.ScoreDistribution.Observe(float64(sc.Score))
	}

	s.publish(realtime.EventRunCompleted, map[string]interface{}{
		"runId":       run.ID,
		"walletCount": len(scores),
	})
	logging.L(ctx).Info("run completed",
		"run_id", run.ID, "wallets", len(scores), "duration", completed.Sub(started))

	return run, nil
}

// collectFeatures fetches every wallet's history concurrently and extracts
// feature records, preserving the run's wallet order.
func (s *Service) collectFeatures(ctx context.Context, run *Run) ([]scoring.FeatureRecord, error) {
	records := make([]scoring.FeatureRecord, len(run.Wallets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, addr := range run.Wallets {
		g.Go(func() error {
			txs, err := s.fetcher.TxList(gctx, addr)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Degrade to an empty history; the wallet still gets scored.
				logging.L(gctx).Warn("wallet fetch failed, scoring from empty history",
					"run_id", run.ID, "address", addr, "error", err)
				txs = nil
			}
			records[i] = features.Extract(addr, txs)
			s.publish(realtime.EventWalletFetched, map[string]interface{}{
				"runId":   run.ID,
				"address": addr,
				"txCount": len(txs),
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) failRun(ctx context.Context, run *Run, cause error) (*Run, error) {
	completed := time.Now().UTC()
	run.Status = StatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &completed
	if err := s.store.UpdateRun(ctx, run); err != nil {
		logging.L(ctx).Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}

	metrics.RunsTotal.WithLabelValues(string(StatusFailed)).Inc()
	s.publish(realtime.EventRunFailed, map[string]interface{}{
		"runId": run.ID,
		"error": cause.Error(),
	})
	logging.L(ctx).Error("run failed", "run_id", run.ID, "error", cause)

	return run, cause
}

func (s *Service) publish(eventType realtime.EventType, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.BroadcastRunEvent(eventType, data)
}

// GetScores returns the scores of a completed run.
func (s *Service) GetScores(ctx context.Context, runID string) ([]scoring.ScoreRecord, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrRunNotFinished, run.Status)
	}
	return s.store.ListScores(ctx, runID)
}
