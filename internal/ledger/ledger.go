// Package ledger is the durable store for wallets and transaction records.
//
// Balance mutations happen only through the atomic movement operations
// (Credit, Debit, Transfer). Each one runs as a single serializable unit
// of work bounded by OpTimeout: advisory locks on the touched wallets are
// taken in ascending wallet-id order, balances are re-read under the lock,
// and the wallet rows plus the immutable transaction record commit
// together or not at all.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/wallet"
)

// OpTimeout bounds every unit of work, lock wait included.
const OpTimeout = 10 * time.Second

// serializationRetries is how many times a unit of work is retried on a
// serialization conflict before surfacing Retryable to the caller.
const serializationRetries = 3

// Store is the ledger contract consumed by the transfer coordinator. It
// also persists PIN state, which lives outside the movement unit of work.
type Store interface {
	pin.Store

	CreateWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error)
	WalletByUser(ctx context.Context, userID string) (*wallet.Wallet, error)
	WalletByAccountNumber(ctx context.Context, accountNumber string) (*wallet.Wallet, error)

	TransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error)
	Transactions(ctx context.Context, userID string, f wallet.TransactionFilter) ([]*wallet.Transaction, int, error)

	// DailyDebitTotal sums SUCCESSFUL outgoing amounts for the account since
	// the given instant. Read outside the unit of work; see package limits.
	DailyDebitTotal(ctx context.Context, userID string, since time.Time) (int64, error)

	Credit(ctx context.Context, args CreditArgs) (*MoveResult, error)
	Debit(ctx context.Context, args DebitArgs) (*MoveResult, error)
	Transfer(ctx context.Context, args TransferArgs) (*MoveResult, error)

	// Wallets and WalletEntries feed the offline reconciler.
	Wallets(ctx context.Context) ([]*wallet.Wallet, error)
	WalletEntries(ctx context.Context, walletID int64) ([]*wallet.Transaction, error)
}

// CreditArgs describes a single-wallet credit (funding, refund).
type CreditArgs struct {
	WalletID    int64
	UserID      string
	Amount      int64
	Fee         int64
	Category    wallet.TxCategory
	Reference   string
	Description string
}

// DebitArgs describes a single-wallet debit (withdrawal). Amount+Fee is
// deducted as a whole. Rail metadata is recorded verbatim.
type DebitArgs struct {
	WalletID    int64
	UserID      string
	Amount      int64
	Fee         int64
	Category    wallet.TxCategory
	Reference   string
	Description string

	BankCode    string
	BankAccount string
	BankName    string
}

// TransferArgs describes a two-wallet movement. Amount+Fee leaves the
// sender; Amount lands on the receiver.
type TransferArgs struct {
	SenderWalletID   int64
	SenderID         string
	ReceiverWalletID int64
	ReceiverID       string
	Amount           int64
	Fee              int64
	Reference        string
	Description      string
}

// MoveResult is a committed movement: the transaction record of record and
// the primary actor's refreshed wallet. Duplicate marks an idempotent
// replay, where the returned record is the original and no balance moved.
type MoveResult struct {
	Transaction *wallet.Transaction
	Wallet      *wallet.Wallet
	Duplicate   bool
}

// insufficientFunds is the consistency-class failure raised under lock.
func insufficientFunds() error {
	return &wallet.Failure{Kind: wallet.KindInsufficientFunds, Msg: "insufficient balance"}
}

// retryable wraps conflicts and timeouts the caller may resubmit.
func retryable(msg string) error {
	return &wallet.Failure{Kind: wallet.KindRetryable, Msg: msg}
}

// isTimeout reports whether the unit of work hit its deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
