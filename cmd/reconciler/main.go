// The reconciler replays every wallet's transaction history against its
// current balance and reports drift. It is read-only and safe to run
// against a live ledger; a non-zero exit means at least one wallet's
// records do not add up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/wallet-infra/internal/config"
	"github.com/example/wallet-infra/internal/ledger"
	"github.com/example/wallet-infra/internal/wallet"
	"github.com/example/wallet-infra/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var store ledger.Store
	if cfg.UsePostgres() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = &ledger.PostgresStore{Pool: pool}
	} else {
		sq, err := ledger.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		defer sq.Close()
		store = sq
	}

	trail := audit.NewTrail(os.Stdout)
	drifted, err := reconcile(ctx, store, trail, logger)
	if err != nil {
		logger.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}
	if drifted > 0 {
		logger.Error("reconciliation found drift", "wallets", drifted)
		os.Exit(2)
	}
	logger.Info("reconciliation clean")
}

// reconcile replays each wallet's entries and returns how many wallets
// drifted from their recorded history.
func reconcile(ctx context.Context, store ledger.Store, trail *audit.Trail, logger *slog.Logger) (int, error) {
	wallets, err := store.Wallets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	drifted := 0
	for _, w := range wallets {
		entries, err := store.WalletEntries(ctx, w.ID)
		if err != nil {
			return 0, fmt.Errorf("entries for wallet %d: %w", w.ID, err)
		}

		problems := replay(w, entries)
		if len(problems) == 0 {
			if _, err := trail.Append("reconciler", "wallet.clean", w.AccountNumber,
				fmt.Sprintf("balance=%d entries=%d", w.Balance, len(entries))); err != nil {
				return 0, err
			}
			continue
		}

		drifted++
		for _, p := range problems {
			logger.Error("balance drift", "wallet_id", w.ID, "account_number", w.AccountNumber, "problem", p)
			if _, err := trail.Append("reconciler", "wallet.drift", w.AccountNumber, p); err != nil {
				return 0, err
			}
		}
	}
	return drifted, nil
}

// replay checks three properties of a wallet's history: each record's
// before/after pair is internally consistent, consecutive records chain
// (one record's after is the next record's before), and the final after
// matches the wallet's current balance.
func replay(w *wallet.Wallet, entries []*wallet.Transaction) []string {
	var problems []string
	running := int64(0)
	haveRunning := false

	for _, t := range entries {
		before, after, delta, ok := perspective(w.ID, t)
		if !ok {
			problems = append(problems, fmt.Sprintf("entry %s does not involve wallet", t.Reference))
			continue
		}
		if before+delta != after {
			problems = append(problems, fmt.Sprintf("entry %s: before %d %+d != after %d", t.Reference, before, delta, after))
		}
		if haveRunning && before != running {
			problems = append(problems, fmt.Sprintf("entry %s: before %d breaks chain at %d", t.Reference, before, running))
		}
		running = after
		haveRunning = true
	}

	if haveRunning && running != w.Balance {
		problems = append(problems, fmt.Sprintf("final replayed balance %d != stored balance %d", running, w.Balance))
	}
	if !haveRunning && w.Balance != 0 {
		problems = append(problems, fmt.Sprintf("stored balance %d with no history", w.Balance))
	}
	return problems
}

// perspective extracts the before/after pair and signed delta for one
// wallet's side of a record.
func perspective(walletID int64, t *wallet.Transaction) (before, after, delta int64, ok bool) {
	if t.SenderWalletID != nil && *t.SenderWalletID == walletID {
		if t.SenderBalanceBefore == nil || t.SenderBalanceAfter == nil {
			return 0, 0, 0, false
		}
		return *t.SenderBalanceBefore, *t.SenderBalanceAfter, -t.TotalAmount, true
	}
	if t.ReceiverWalletID != nil && *t.ReceiverWalletID == walletID {
		if t.ReceiverBalanceBefore == nil || t.ReceiverBalanceAfter == nil {
			return 0, 0, 0, false
		}
		return *t.ReceiverBalanceBefore, *t.ReceiverBalanceAfter, t.Amount, true
	}
	return 0, 0, 0, false
}
