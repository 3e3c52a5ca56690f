// Package features derives per-wallet risk features from raw transaction
// histories. Feature extraction looks only at Compound V2 lending activity
// plus overall transfer volume; everything else on-chain is ignored.
package features

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"

	"github.com/mbd888/walletrisk/internal/etherscan"
	"github.com/mbd888/walletrisk/internal/scoring"
)

// CompoundContracts maps Compound V2 mainnet contract names to addresses.
var CompoundContracts = map[string]string{
	"cDAI":        "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643",
	"cETH":        "0x4ddc2d193948926d02f9b1fe9e1daa0718270ed5",
	"cUSDC":       "0x39aa39c021dfbae8fac545936693ac917d5e7563",
	"cUSDT":       "0xf650c3d88d12be4e4267fcedd83c6e9a4e2c6d5e",
	"Comptroller": "0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b",
}

// Call signature prefixes used to classify Compound interactions.
const (
	SigBorrow    = "0x69328dec" // borrow(uint256)
	SigRepay     = "0x0e6798a0" // repayBorrow(uint256)
	SigMint      = "0x1241ab3f" // mint(uint256)
	SigLiquidate = "0x7db4f5c"  // liquidateBorrow(address,uint256,address)
)

// ratioEpsilon keeps ratio denominators nonzero when a wallet borrowed a
// dust amount that rounds to zero ETH.
const ratioEpsilon = 1e-10

var compoundSet = func() map[string]bool {
	set := make(map[string]bool, len(CompoundContracts))
	for _, addr := range CompoundContracts {
		set[addr] = true
	}
	return set
}()

// Extract computes the feature record for a wallet from its transaction
// history. An empty history is valid and produces the no-activity record.
func Extract(address string, txs []etherscan.Transaction) scoring.FeatureRecord {
	var (
		borrowCount         int
		repayCount          int
		liquidationCount    int
		totalBorrowed       float64
		totalRepaid         float64
		collateralDeposited float64
		totalVolume         float64
	)

	for _, tx := range txs {
		value := weiToEth(tx.Value)
		totalVolume += value

		to := strings.ToLower(tx.To)
		input := strings.ToLower(tx.Input)

		if !compoundSet[to] {
			continue
		}
		switch {
		case strings.HasPrefix(input, SigBorrow):
			borrowCount++
			totalBorrowed += value
		case strings.HasPrefix(input, SigRepay):
			repayCount++
			totalRepaid += value
		case strings.HasPrefix(input, SigMint):
			collateralDeposited += value
		case strings.HasPrefix(input, SigLiquidate):
			liquidationCount++
		}
	}

	txCount := len(txs)
	activityLevel := float64(txCount) / float64(txCount+1)

	// A wallet that never touched Compound gets neutral ratios and a flag
	// the scorer penalizes mildly. Volume and activity still count.
	if borrowCount == 0 && repayCount == 0 && collateralDeposited == 0 {
		return scoring.FeatureRecord{
			WalletID:           address,
			BorrowCount:        0,
			RepaymentRatio:     1,
			CollateralRatio:    1,
			LiquidationCount:   0,
			TotalVolume:        totalVolume,
			ActivityLevel:      activityLevel,
			NoCompoundActivity: true,
		}
	}

	repaymentRatio := 1.0
	collateralRatio := 1.0
	if totalBorrowed > 0 {
		repaymentRatio = totalRepaid / (totalBorrowed + ratioEpsilon)
		collateralRatio = collateralDeposited / (totalBorrowed + ratioEpsilon)
	}

	return scoring.FeatureRecord{
		WalletID:           address,
		BorrowCount:        borrowCount,
		RepaymentRatio:     repaymentRatio,
		CollateralRatio:    collateralRatio,
		LiquidationCount:   liquidationCount,
		TotalVolume:        totalVolume,
		ActivityLevel:      activityLevel,
		NoCompoundActivity: false,
	}
}

// weiToEth converts a decimal wei string to ETH. Malformed values count as zero.
func weiToEth(wei string) float64 {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(v),
		new(big.Float).SetInt64(params.Ether),
	).Float64()
	return f
}
