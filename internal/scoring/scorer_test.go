package scoring

import (
	"errors"
	"math"
	"testing"
)

// threeWallets is the worked fixture: one inactive wallet, one healthy
// borrower, one over-leveraged wallet with liquidations.
func threeWallets() []FeatureRecord {
	return []FeatureRecord{
		{
			WalletID:           "0xw1",
			BorrowCount:        0,
			RepaymentRatio:     1,
			CollateralRatio:    1,
			LiquidationCount:   0,
			TotalVolume:        0,
			ActivityLevel:      0,
			NoCompoundActivity: true,
		},
		{
			WalletID:         "0xw2",
			BorrowCount:      5,
			RepaymentRatio:   0.5,
			CollateralRatio:  1.5,
			LiquidationCount: 0,
			TotalVolume:      10,
			ActivityLevel:    0.9,
		},
		{
			WalletID:         "0xw3",
			BorrowCount:      10,
			RepaymentRatio:   0.1,
			CollateralRatio:  0.5,
			LiquidationCount: 2,
			TotalVolume:      50,
			ActivityLevel:    0.95,
		},
	}
}

func TestScoreThreeWalletFixture(t *testing.T) {
	// Expected values pin down the documented algorithm exactly:
	// W3 has the lowest raw score (maps to 100), W2 the highest (maps to
	// 1000), and W1 lands at raw 0.35 → (0.35/0.61017...)×900+100 = 616.
	scores, err := Score(threeWallets())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	want := map[string]int{"0xw1": 616, "0xw2": 1000, "0xw3": 100}
	if len(scores) != len(want) {
		t.Fatalf("expected %d scores, got %d", len(want), len(scores))
	}
	for _, s := range scores {
		if s.Score != want[s.WalletID] {
			t.Errorf("%s: score = %d, want %d", s.WalletID, s.Score, want[s.WalletID])
		}
	}
}

func TestScorePreservesWalletSet(t *testing.T) {
	records := threeWallets()
	scores, err := Score(records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if len(scores) != len(records) {
		t.Fatalf("expected %d scores, got %d", len(records), len(scores))
	}
	seen := make(map[string]bool)
	for _, s := range scores {
		seen[s.WalletID] = true
	}
	for _, r := range records {
		if !seen[r.WalletID] {
			t.Errorf("wallet %s missing from output", r.WalletID)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	scores, err := Score(threeWallets())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for _, s := range scores {
		if s.Score < 0 || s.Score > 1000 {
			t.Errorf("%s: score %d out of [0, 1000]", s.WalletID, s.Score)
		}
		for name, f := range s.Factors {
			if f < 0 || f > 1 {
				t.Errorf("%s: normalized factor %s = %f out of [0, 1]", s.WalletID, name, f)
			}
		}
	}
}

func TestScoreOrderIrrelevant(t *testing.T) {
	records := threeWallets()
	forward, err := Score(records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	reversed := []FeatureRecord{records[2], records[0], records[1]}
	shuffled, err := Score(reversed)
	if err != nil {
		t.Fatalf("Score failed on reordered batch: %v", err)
	}

	byWallet := make(map[string]int)
	for _, s := range shuffled {
		byWallet[s.WalletID] = s.Score
	}
	for _, s := range forward {
		if byWallet[s.WalletID] != s.Score {
			t.Errorf("%s: score changed with input order: %d vs %d",
				s.WalletID, s.Score, byWallet[s.WalletID])
		}
	}
}

func TestScoreOutputOrderMatchesInput(t *testing.T) {
	records := threeWallets()
	scores, err := Score(records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for i := range records {
		if scores[i].WalletID != records[i].WalletID {
			t.Errorf("position %d: got %s, want %s", i, scores[i].WalletID, records[i].WalletID)
		}
	}
}

func TestIdenticalBatchScoresMidpoint(t *testing.T) {
	records := make([]FeatureRecord, 4)
	for i := range records {
		records[i] = FeatureRecord{
			WalletID:        string(rune('a' + i)),
			BorrowCount:     3,
			RepaymentRatio:  0.8,
			CollateralRatio: 1.2,
			TotalVolume:     25,
			ActivityLevel:   0.5,
		}
	}

	scores, err := Score(records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for _, s := range scores {
		if s.Score != MidScore {
			t.Errorf("%s: identical batch score = %d, want %d", s.WalletID, s.Score, MidScore)
		}
	}
}

func TestSingleWalletScoresMidpoint(t *testing.T) {
	scores, err := Score([]FeatureRecord{{
		WalletID:       "0xonly",
		BorrowCount:    7,
		RepaymentRatio: 0.3,
		TotalVolume:    100,
		ActivityLevel:  0.99,
	}})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if len(scores) != 1 || scores[0].Score != MidScore {
		t.Fatalf("single-wallet batch: got %+v, want one score of %d", scores, MidScore)
	}
	// Every column has zero variance for N=1, so every factor must be 0.
	for name, f := range scores[0].Factors {
		if f != 0 {
			t.Errorf("factor %s = %f, want 0 for N=1", name, f)
		}
	}
}

func TestLiquidationsNeverRaiseScore(t *testing.T) {
	base := FeatureRecord{
		WalletID:        "0xclean",
		BorrowCount:     5,
		RepaymentRatio:  0.9,
		CollateralRatio: 1.1,
		TotalVolume:     10,
		ActivityLevel:   0.8,
	}
	liquidated := base
	liquidated.WalletID = "0xliquidated"
	liquidated.LiquidationCount = 3

	// A third wallet keeps the other columns' bounds fixed.
	other := FeatureRecord{
		WalletID:       "0xother",
		BorrowCount:    1,
		RepaymentRatio: 1,
		TotalVolume:    5,
		ActivityLevel:  0.2,
	}

	scores, err := Score([]FeatureRecord{base, liquidated, other})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	byWallet := make(map[string]int)
	for _, s := range scores {
		byWallet[s.WalletID] = s.Score
	}
	if byWallet["0xliquidated"] > byWallet["0xclean"] {
		t.Errorf("liquidated wallet scored %d above otherwise-identical wallet %d",
			byWallet["0xliquidated"], byWallet["0xclean"])
	}
}

func TestZeroVarianceColumnIsIsolated(t *testing.T) {
	// Both wallets have the same liquidation count; the column must
	// normalize to 0 for both without disturbing the other columns.
	scores, err := Score([]FeatureRecord{
		{WalletID: "0xa", BorrowCount: 2, RepaymentRatio: 1, LiquidationCount: 1, TotalVolume: 10, ActivityLevel: 0.5},
		{WalletID: "0xb", BorrowCount: 8, RepaymentRatio: 0.2, LiquidationCount: 1, TotalVolume: 40, ActivityLevel: 0.9},
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for _, s := range scores {
		if f := s.Factors["liquidation_count"]; f != 0 {
			t.Errorf("%s: zero-variance column factor = %f, want 0", s.WalletID, f)
		}
	}
	// The varying columns still spread the batch across the full range.
	if scores[0].Score == scores[1].Score {
		t.Error("wallets with differing features scored identically")
	}
}

func TestNegativeFeatureValuesAccepted(t *testing.T) {
	// No feature definition produces negatives, but the scorer imposes no
	// lower bound of its own.
	_, err := Score([]FeatureRecord{
		{WalletID: "0xa", TotalVolume: -5, RepaymentRatio: 1, CollateralRatio: 1},
		{WalletID: "0xb", TotalVolume: 10, RepaymentRatio: 1, CollateralRatio: 1},
	})
	if err != nil {
		t.Errorf("negative feature value rejected: %v", err)
	}
}

func TestEmptyBatchRejected(t *testing.T) {
	if _, err := Score(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
	if _, err := Score([]FeatureRecord{}); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch for empty slice, got %v", err)
	}
}

func TestDuplicateWalletRejected(t *testing.T) {
	scores, err := Score([]FeatureRecord{
		{WalletID: "0xsame", RepaymentRatio: 1, CollateralRatio: 1},
		{WalletID: "0xsame", RepaymentRatio: 0.5, CollateralRatio: 1},
	})
	if !errors.Is(err, ErrDuplicateWallet) {
		t.Errorf("expected ErrDuplicateWallet, got %v", err)
	}
	if scores != nil {
		t.Errorf("expected no partial output, got %d records", len(scores))
	}
}

func TestMissingWalletIDRejected(t *testing.T) {
	_, err := Score([]FeatureRecord{{RepaymentRatio: 1, CollateralRatio: 1}})
	if !errors.Is(err, ErrMissingWalletID) {
		t.Errorf("expected ErrMissingWalletID, got %v", err)
	}
}

func TestNaNFeatureRejected(t *testing.T) {
	_, err := Score([]FeatureRecord{
		{WalletID: "0xa", RepaymentRatio: math.NaN(), CollateralRatio: 1},
		{WalletID: "0xb", RepaymentRatio: 1, CollateralRatio: 1},
	})
	if !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("expected ErrInvalidFeature for NaN, got %v", err)
	}

	_, err = Score([]FeatureRecord{
		{WalletID: "0xa", TotalVolume: math.Inf(1), RepaymentRatio: 1, CollateralRatio: 1},
	})
	if !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("expected ErrInvalidFeature for Inf, got %v", err)
	}
}

func TestWeightsExposed(t *testing.T) {
	w := Weights()
	if len(w) != 7 {
		t.Fatalf("expected 7 weights, got %d", len(w))
	}
	if w["liquidation_count"] != -0.25 {
		t.Errorf("liquidation_count weight = %f, want -0.25", w["liquidation_count"])
	}
	// Mutating the copy must not leak back into the scorer.
	w["liquidation_count"] = 99
	if Weights()["liquidation_count"] != -0.25 {
		t.Error("Weights returned a live reference to internal state")
	}
}
