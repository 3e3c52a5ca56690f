// Command score runs a one-shot scoring batch from a wallet list and writes
// the results as CSV. Useful for offline analysis without running the server.
//
// Usage:
//
//	score -in wallets.csv -out wallet_risk_scores.csv
//
// The input file is a CSV with one wallet address per row (a header row named
// wallet_id or address is skipped). Requires ETHERSCAN_API_KEY in the
// environment or a .env file.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/etherscan"
	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/runs"
	"github.com/mbd888/walletrisk/internal/scoring"
)

func main() {
	inPath := flag.String("in", "wallets.csv", "input CSV with one wallet address per row")
	outPath := flag.String("out", "wallet_risk_scores.csv", "output CSV path")
	flag.Parse()

	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	wallets, err := readWallets(*inPath)
	if err != nil {
		logger.Error("failed to read wallet list", "path", *inPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded wallet list", "path", *inPath, "wallets", len(wallets))

	fetcher := etherscan.New(cfg.EtherscanAPIURL, cfg.EtherscanAPIKey,
		etherscan.WithPace(cfg.EtherscanPace),
		etherscan.WithRetries(cfg.FetchRetries),
	)

	// One-shot batch: in-memory storage, no event streaming.
	service := runs.NewService(runs.NewMemoryStore(), fetcher, nil,
		cfg.FetchConcurrency, cfg.MaxBatchSize)

	ctx := logging.WithLogger(context.Background(), logger)

	run, err := service.CreateRun(ctx, wallets)
	if err != nil {
		logger.Error("failed to create run", "error", err)
		os.Exit(1)
	}

	logger.Info("scoring run started", "run_id", run.ID, "wallets", run.WalletCount)

	if _, err := service.ExecuteRun(ctx, run.ID); err != nil {
		logger.Error("run failed", "run_id", run.ID, "error", err)
		os.Exit(1)
	}

	scores, err := service.GetScores(ctx, run.ID)
	if err != nil {
		logger.Error("failed to load scores", "run_id", run.ID, "error", err)
		os.Exit(1)
	}

	if err := writeScores(*outPath, scores); err != nil {
		logger.Error("failed to write results", "path", *outPath, "error", err)
		os.Exit(1)
	}

	logger.Info("results saved", "path", *outPath, "wallets", len(scores))
}

// readWallets parses a one-column CSV of wallet addresses, skipping an
// optional header row.
func readWallets(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path from CLI flag
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var wallets []string
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		addr := strings.TrimSpace(rec[0])
		if addr == "" {
			continue
		}
		// Skip a header row
		switch strings.ToLower(addr) {
		case "wallet_id", "wallet id", "address", "wallet":
			continue
		}
		wallets = append(wallets, addr)
	}

	if len(wallets) == 0 {
		return nil, fmt.Errorf("no wallet addresses in %s", path)
	}
	return wallets, nil
}

func writeScores(path string, scores []scoring.ScoreRecord) error {
	f, err := os.Create(path) // #nosec G304 -- path from CLI flag
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"wallet_id", "score"}); err != nil {
		return err
	}
	for _, s := range scores {
		if err := w.Write([]string{s.WalletID, strconv.Itoa(s.Score)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
