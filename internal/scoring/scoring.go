// Package scoring computes population-relative risk scores for wallets.
//
// A batch of per-wallet feature records is normalized column-by-column against
// the batch's own min/max, combined with fixed signed weights, and rescaled to
// an integer score in [0, 1000] where higher means lower assessed risk.
//
// Scores are rank-relative within a single batch: the batch's own extremes are
// pinned to the ends of the output range, so scores from different batches are
// NOT comparable. Callers that persist scores across runs must treat each run
// as its own frame of reference.
package scoring

import (
	"errors"
	"time"
)

// Output range constants. The rescaling step maps the batch's raw-score
// extremes onto [ScaleFloor, ScaleCeil]; MidScore is assigned when the whole
// batch collapses to a single raw score.
const (
	ScaleFloor = 100
	ScaleCeil  = 1000
	MidScore   = 500
)

// Invalid-input failures. A batch that trips any of these produces no output.
var (
	ErrEmptyBatch      = errors.New("empty batch")
	ErrMissingWalletID = errors.New("missing wallet id")
	ErrDuplicateWallet = errors.New("duplicate wallet id")
	ErrInvalidFeature  = errors.New("feature value is NaN or infinite")
)

// FeatureRecord is one wallet's feature vector, derived from its transaction
// history by the feature extractor. Records are immutable once built and are
// consumed exactly once per scoring run.
type FeatureRecord struct {
	WalletID           string  `json:"walletId"`
	BorrowCount        int     `json:"borrowCount"`
	RepaymentRatio     float64 `json:"repaymentRatio"`
	CollateralRatio    float64 `json:"collateralRatio"`
	LiquidationCount   int     `json:"liquidationCount"`
	TotalVolume        float64 `json:"totalVolume"`
	ActivityLevel      float64 `json:"activityLevel"`
	NoCompoundActivity bool    `json:"noCompoundActivity"`
}

// ScoreRecord is the scored result for one wallet.
// Factors holds the batch-normalized value of each feature column, kept for
// audit trails and API responses; the score alone is the contract.
type ScoreRecord struct {
	WalletID string             `json:"walletId"`
	Score    int                `json:"score"`
	Factors  map[string]float64 `json:"factors,omitempty"`
	ScoredAt time.Time          `json:"scoredAt"`
}

// column binds a feature name to its fixed weight and accessor. Negative
// weights push the score down (higher risk), positive weights push it up.
type column struct {
	name   string
	weight float64
	value  func(*FeatureRecord) float64
}

// The weights are design constants inherited from the original scoring
// rationale. They intentionally do not sum to 1 (the sum is 0.6); do not
// renormalize them.
var columns = []column{
	{"borrow_count", -0.20, func(r *FeatureRecord) float64 { return float64(r.BorrowCount) }},
	{"repayment_ratio", 0.30, func(r *FeatureRecord) float64 { return r.RepaymentRatio }},
	{"collateral_ratio", 0.30, func(r *FeatureRecord) float64 { return r.CollateralRatio }},
	{"liquidation_count", -0.25, func(r *FeatureRecord) float64 { return float64(r.LiquidationCount) }},
	{"total_volume", 0.20, func(r *FeatureRecord) float64 { return r.TotalVolume }},
	{"activity_level", 0.25, func(r *FeatureRecord) float64 { return r.ActivityLevel }},
	{"no_compound_activity", -0.10, func(r *FeatureRecord) float64 {
		if r.NoCompoundActivity {
			return 1
		}
		return 0
	}},
}

// Weights returns the fixed feature weights keyed by column name.
// Exposed for API introspection; mutating the returned map has no effect.
func Weights() map[string]float64 {
	w := make(map[string]float64, len(columns))
	for _, c := range columns {
		w[c.name] = c.weight
	}
	return w
}
