// Package engine coordinates money movements: it resolves wallets, runs
// authorization and limit checks, prices fees, and hands the resulting
// balance changes to the ledger store as one atomic unit of work.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/wallet-infra/internal/fees"
	"github.com/example/wallet-infra/internal/ledger"
	"github.com/example/wallet-infra/internal/limits"
	"github.com/example/wallet-infra/internal/metrics"
	"github.com/example/wallet-infra/internal/notify"
	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/wallet"
)

// Engine is the movement coordinator. All fields are required except
// Dispatcher and Metrics, which are skipped when nil.
type Engine struct {
	store      ledger.Store
	pins       *pin.Guard
	limits     limits.Policy
	fees       fees.Policy
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	log        *slog.Logger

	now func() time.Time
}

type Option func(*Engine)

// WithDispatcher attaches a post-commit notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithMetrics attaches movement instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine clock. Tests use it to pin the daily
// limit window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store ledger.Store, pins *pin.Guard, lp limits.Policy, fp fees.Policy, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		pins:   pins,
		limits: lp,
		fees:   fp,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FundArgs credits an account's own wallet from an external source.
type FundArgs struct {
	AccountID   string
	Tier        wallet.Tier
	Amount      int64
	Category    wallet.TxCategory
	Reference   string
	Description string
}

// TransferArgs moves value to another account's wallet, addressed by
// account number.
type TransferArgs struct {
	SenderID         string
	Tier             wallet.Tier
	RecipientAccount string
	Amount           int64
	PIN              string
	Reference        string
	Description      string
}

// WithdrawArgs debits the account's wallet toward an external bank rail.
type WithdrawArgs struct {
	AccountID   string
	Tier        wallet.Tier
	Amount      int64
	PIN         string
	BankCode    string
	BankAccount string
	BankName    string
	Reference   string
	Description string
}

// Wallet returns the account's wallet.
func (e *Engine) Wallet(ctx context.Context, accountID string) (*wallet.Wallet, error) {
	return e.store.WalletByUser(ctx, accountID)
}

// EnsureWallet returns the account's wallet, creating it on first use.
func (e *Engine) EnsureWallet(ctx context.Context, accountID, currency string) (*wallet.Wallet, error) {
	w, err := e.store.WalletByUser(ctx, accountID)
	if err == nil {
		return w, nil
	}
	if err != wallet.ErrWalletNotFound {
		return nil, err
	}
	return e.store.CreateWallet(ctx, accountID, currency)
}

// Transactions lists the account's movement history.
func (e *Engine) Transactions(ctx context.Context, accountID string, f wallet.TransactionFilter) ([]*wallet.Transaction, int, error) {
	return e.store.Transactions(ctx, accountID, f)
}

// TransactionByReference fetches one record if the account participated
// in it; anyone else sees not-found.
func (e *Engine) TransactionByReference(ctx context.Context, accountID, reference string) (*wallet.Transaction, error) {
	t, err := e.store.TransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !participant(t, accountID) {
		return nil, wallet.ErrTransactionNotFound
	}
	return t, nil
}

// replayedByOrigin gates idempotent replays: only the account that
// originated a reference gets the original record back. Anyone else
// submitting a known reference sees a conflict, never the record.
func replayedByOrigin(res *ledger.MoveResult, origin *string, accountID string) error {
	if !res.Duplicate {
		return nil
	}
	if origin == nil || *origin != accountID {
		return wallet.NewFailure(wallet.KindDuplicateReference, "reference already used")
	}
	return nil
}

func participant(t *wallet.Transaction, accountID string) bool {
	if t.SenderID != nil && *t.SenderID == accountID {
		return true
	}
	if t.ReceiverID != nil && *t.ReceiverID == accountID {
		return true
	}
	return false
}

// Fund credits the caller's wallet. Funding carries no PIN check and no
// single or daily cap; only the tier's resting balance ceiling applies.
// The fee is the rail's charge on top of the amount, so the full amount
// always lands on the wallet.
func (e *Engine) Fund(ctx context.Context, args FundArgs) (*ledger.MoveResult, error) {
	started := e.now()
	if args.Amount <= 0 {
		return nil, wallet.NewFailure(wallet.KindInvalidArgument, "amount must be positive")
	}
	if args.Category != wallet.CategoryBankFunding && args.Category != wallet.CategoryCardFunding {
		return nil, wallet.NewFailure(wallet.KindInvalidArgument, "unsupported funding category")
	}
	if args.Reference == "" {
		args.Reference = wallet.NewReference()
	}

	w, err := e.store.WalletByUser(ctx, args.AccountID)
	if err != nil {
		return nil, err
	}
	if err := e.limits.CheckResting(args.Tier, w.Balance, args.Amount); err != nil {
		return nil, e.observe(args.Category, started, err)
	}

	res, err := e.store.Credit(ctx, ledger.CreditArgs{
		WalletID:    w.ID,
		UserID:      args.AccountID,
		Amount:      args.Amount,
		Fee:         e.fees.Fee(args.Amount, args.Category),
		Category:    args.Category,
		Reference:   args.Reference,
		Description: args.Description,
	})
	if err != nil {
		return nil, e.observe(args.Category, started, err)
	}
	if err := replayedByOrigin(res, res.Transaction.ReceiverID, args.AccountID); err != nil {
		return nil, e.observe(args.Category, started, err)
	}
	e.finish(args.Category, started, res, args.AccountID, "")
	return res, nil
}

// Transfer moves value from the caller to the wallet behind the given
// account number. Fee-free, PIN gated, subject to the caller's single
// and daily tier limits.
func (e *Engine) Transfer(ctx context.Context, args TransferArgs) (*ledger.MoveResult, error) {
	started := e.now()
	if args.Amount <= 0 {
		return nil, wallet.NewFailure(wallet.KindInvalidArgument, "amount must be positive")
	}
	if args.Reference == "" {
		args.Reference = wallet.NewReference()
	}

	sender, err := e.store.WalletByUser(ctx, args.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := e.store.WalletByAccountNumber(ctx, args.RecipientAccount)
	if err != nil {
		if err == wallet.ErrWalletNotFound {
			return nil, wallet.NewFailure(wallet.KindRecipientNotFound, "no wallet with that account number")
		}
		return nil, err
	}
	if receiver.ID == sender.ID || receiver.UserID == sender.UserID {
		return nil, wallet.NewFailure(wallet.KindSelfTransfer, "cannot transfer to own wallet")
	}

	if err := e.pins.Authorize(ctx, args.SenderID, args.PIN); err != nil {
		return nil, e.observe(wallet.CategoryWalletTransfer, started, err)
	}
	if err := e.checkDebitLimits(ctx, args.SenderID, args.Tier, args.Amount); err != nil {
		return nil, e.observe(wallet.CategoryWalletTransfer, started, err)
	}

	res, err := e.store.Transfer(ctx, ledger.TransferArgs{
		SenderWalletID:   sender.ID,
		SenderID:         args.SenderID,
		ReceiverWalletID: receiver.ID,
		ReceiverID:       receiver.UserID,
		Amount:           args.Amount,
		Fee:              e.fees.Fee(args.Amount, wallet.CategoryWalletTransfer),
		Reference:        args.Reference,
		Description:      args.Description,
	})
	if err != nil {
		return nil, e.observe(wallet.CategoryWalletTransfer, started, err)
	}
	if err := replayedByOrigin(res, res.Transaction.SenderID, args.SenderID); err != nil {
		return nil, e.observe(wallet.CategoryWalletTransfer, started, err)
	}
	e.finish(wallet.CategoryWalletTransfer, started, res, args.SenderID, receiver.UserID)
	return res, nil
}

// Withdraw debits the caller's wallet toward a bank account. The flat
// withdrawal fee rides on top of the amount; PIN and tier limits apply.
func (e *Engine) Withdraw(ctx context.Context, args WithdrawArgs) (*ledger.MoveResult, error) {
	started := e.now()
	if args.Amount <= 0 {
		return nil, wallet.NewFailure(wallet.KindInvalidArgument, "amount must be positive")
	}
	if args.BankCode == "" || args.BankAccount == "" {
		return nil, wallet.NewFailure(wallet.KindInvalidArgument, "bank destination required")
	}
	if args.Reference == "" {
		args.Reference = wallet.NewReference()
	}

	w, err := e.store.WalletByUser(ctx, args.AccountID)
	if err != nil {
		return nil, err
	}

	if err := e.pins.Authorize(ctx, args.AccountID, args.PIN); err != nil {
		return nil, e.observe(wallet.CategoryBankWithdrawal, started, err)
	}
	if err := e.checkDebitLimits(ctx, args.AccountID, args.Tier, args.Amount); err != nil {
		return nil, e.observe(wallet.CategoryBankWithdrawal, started, err)
	}

	res, err := e.store.Debit(ctx, ledger.DebitArgs{
		WalletID:    w.ID,
		UserID:      args.AccountID,
		Amount:      args.Amount,
		Fee:         e.fees.Fee(args.Amount, wallet.CategoryBankWithdrawal),
		Category:    wallet.CategoryBankWithdrawal,
		Reference:   args.Reference,
		Description: args.Description,
		BankCode:    args.BankCode,
		BankAccount: args.BankAccount,
		BankName:    args.BankName,
	})
	if err != nil {
		return nil, e.observe(wallet.CategoryBankWithdrawal, started, err)
	}
	if err := replayedByOrigin(res, res.Transaction.SenderID, args.AccountID); err != nil {
		return nil, e.observe(wallet.CategoryBankWithdrawal, started, err)
	}
	e.finish(wallet.CategoryBankWithdrawal, started, res, args.AccountID, "")
	return res, nil
}

// checkDebitLimits enforces the single-movement cap and the rolling daily
// cap. The daily total is read outside the unit of work: two racing
// movements can each pass the check against the same snapshot, so the
// daily cap is advisory to within one concurrent movement. Balances are
// never at risk; funds checks happen inside the unit of work.
func (e *Engine) checkDebitLimits(ctx context.Context, accountID string, tier wallet.Tier, amount int64) error {
	if err := e.limits.CheckSingle(tier, amount); err != nil {
		return err
	}
	used, err := e.store.DailyDebitTotal(ctx, accountID, e.midnight())
	if err != nil {
		return fmt.Errorf("read daily total: %w", err)
	}
	return e.limits.CheckDaily(tier, used, amount)
}

// midnight is the start of the current day in the engine clock's location.
func (e *Engine) midnight() time.Time {
	now := e.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// finish records metrics and dispatches notifications for a committed
// movement. Duplicate replays are counted but never re-notified.
func (e *Engine) finish(category wallet.TxCategory, started time.Time, res *ledger.MoveResult, accountID, counterparty string) {
	outcome := "success"
	if res.Duplicate {
		outcome = "duplicate"
	}
	if e.metrics != nil {
		e.metrics.ObserveMovement(string(category), outcome, e.now().Sub(started).Seconds())
	}
	e.log.Info("movement committed",
		slog.String("reference", res.Transaction.Reference),
		slog.String("category", string(category)),
		slog.String("outcome", outcome),
		slog.Int64("amount", res.Transaction.Amount),
		slog.Int64("fee", res.Transaction.Fee))

	if res.Duplicate || e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(notify.Event{
		Reference:    res.Transaction.Reference,
		Category:     category,
		AccountID:    accountID,
		Counterparty: counterparty,
		Amount:       res.Transaction.Amount,
		Fee:          res.Transaction.Fee,
		OccurredAt:   res.Transaction.CreatedAt,
	})
}

// observe counts a failed movement attempt by failure kind.
func (e *Engine) observe(category wallet.TxCategory, started time.Time, err error) error {
	if e.metrics != nil {
		outcome := "error"
		if f, ok := wallet.AsFailure(err); ok {
			outcome = string(f.Kind)
		}
		e.metrics.ObserveMovement(string(category), outcome, e.now().Sub(started).Seconds())
	}
	return err
}
