package scoring

import (
	"fmt"
	"math"
	"time"
)

// Score computes one ScoreRecord per input record. Input order is preserved.
//
// The computation is a pure function of the batch: per-column min-max
// normalization, weighted linear combination, then a linear rescale pinning
// the batch's raw extremes to [ScaleFloor, ScaleCeil]. A column with zero
// variance normalizes to 0 for every wallet without affecting the other
// columns; a batch with zero raw-score variance (including N=1) scores
// MidScore everywhere. Scores are truncated toward the lower integer and
// clamped into [0, 1000].
//
// It is safe to call concurrently on independent batches.
func Score(records []FeatureRecord) ([]ScoreRecord, error) {
	if err := validate(records); err != nil {
		return nil, err
	}

	// Pass 1: per-column bounds across the batch.
	type bounds struct{ lo, hi float64 }
	stats := make([]bounds, len(columns))
	for i, c := range columns {
		b := bounds{lo: c.value(&records[0]), hi: c.value(&records[0])}
		for j := 1; j < len(records); j++ {
			v := c.value(&records[j])
			if v < b.lo {
				b.lo = v
			}
			if v > b.hi {
				b.hi = v
			}
		}
		stats[i] = b
	}

	// Pass 2: normalize each column and fold in its weight.
	raw := make([]float64, len(records))
	factors := make([]map[string]float64, len(records))
	for j := range records {
		f := make(map[string]float64, len(columns))
		var sum float64
		for i, c := range columns {
			var norm float64
			if span := stats[i].hi - stats[i].lo; span > 0 {
				norm = (c.value(&records[j]) - stats[i].lo) / span
			}
			f[c.name] = norm
			sum += norm * c.weight
		}
		raw[j] = sum
		factors[j] = f
	}

	minRaw, maxRaw := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < minRaw {
			minRaw = v
		}
		if v > maxRaw {
			maxRaw = v
		}
	}

	now := time.Now().UTC()
	out := make([]ScoreRecord, len(records))
	for j := range records {
		var s float64
		if maxRaw == minRaw {
			s = MidScore
		} else {
			s = (raw[j]-minRaw)/(maxRaw-minRaw)*(ScaleCeil-ScaleFloor) + ScaleFloor
		}
		// The clamp only matters if the weight table changes.
		if s < 0 {
			s = 0
		}
		if s > 1000 {
			s = 1000
		}
		out[j] = ScoreRecord{
			WalletID: records[j].WalletID,
			Score:    int(s),
			Factors:  factors[j],
			ScoredAt: now,
		}
	}
	return out, nil
}

// validate rejects batches the scorer cannot produce unambiguous output for.
func validate(records []FeatureRecord) error {
	if len(records) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		r := &records[i]
		if r.WalletID == "" {
			return ErrMissingWalletID
		}
		if _, dup := seen[r.WalletID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateWallet, r.WalletID)
		}
		seen[r.WalletID] = struct{}{}
		for _, c := range columns {
			if v := c.value(r); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: wallet %s column %s", ErrInvalidFeature, r.WalletID, c.name)
			}
		}
	}
	return nil
}
