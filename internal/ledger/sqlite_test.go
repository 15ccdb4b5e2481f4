package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wallet-infra/internal/wallet"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fund(t *testing.T, s *SQLiteStore, w *wallet.Wallet, amount int64) {
	t.Helper()
	_, err := s.Credit(context.Background(), CreditArgs{
		WalletID:  w.ID,
		UserID:    w.UserID,
		Amount:    amount,
		Category:  wallet.CategoryBankFunding,
		Reference: wallet.NewReference(),
	})
	require.NoError(t, err)
}

func TestCreateWallet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, "user-1", "NGN")
	require.NoError(t, err)
	assert.NotZero(t, w.ID)
	assert.Equal(t, int64(0), w.Balance)
	assert.Len(t, w.AccountNumber, 10)
	assert.Equal(t, "20", w.AccountNumber[:2])

	got, err := s.WalletByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	byNumber, err := s.WalletByAccountNumber(ctx, w.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byNumber.ID)

	_, err = s.WalletByUser(ctx, "nobody")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestCreditWritesBalancePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, "user-1", "NGN")
	require.NoError(t, err)

	res, err := s.Credit(ctx, CreditArgs{
		WalletID:  w.ID,
		UserID:    "user-1",
		Amount:    10_000,
		Category:  wallet.CategoryBankFunding,
		Reference: "TXN-credit-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(10_000), res.Wallet.Balance)
	assert.Equal(t, int64(0), res.Wallet.PreviousBalance)

	tx := res.Transaction
	assert.Equal(t, wallet.TxCredit, tx.Type)
	assert.Equal(t, wallet.StatusSuccessful, tx.Status)
	require.NotNil(t, tx.ReceiverBalanceBefore)
	require.NotNil(t, tx.ReceiverBalanceAfter)
	assert.Equal(t, int64(0), *tx.ReceiverBalanceBefore)
	assert.Equal(t, int64(10_000), *tx.ReceiverBalanceAfter)
}

func TestDebitRequiresFunds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, "user-1", "NGN")
	require.NoError(t, err)
	fund(t, s, w, 10_000)

	// Amount fits but amount+fee does not.
	_, err = s.Debit(ctx, DebitArgs{
		WalletID:  w.ID,
		UserID:    "user-1",
		Amount:    9_000,
		Fee:       5_000,
		Category:  wallet.CategoryBankWithdrawal,
		Reference: "TXN-debit-over",
		BankCode:  "058",
	})
	f, ok := wallet.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, wallet.KindInsufficientFunds, f.Kind)

	// Nothing moved and no record was written.
	got, err := s.WalletByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), got.Balance)
	_, err = s.TransactionByReference(ctx, "TXN-debit-over")
	assert.ErrorIs(t, err, wallet.ErrTransactionNotFound)

	res, err := s.Debit(ctx, DebitArgs{
		WalletID:    w.ID,
		UserID:      "user-1",
		Amount:      5_000,
		Fee:         5_000,
		Category:    wallet.CategoryBankWithdrawal,
		Reference:   "TXN-debit-ok",
		BankCode:    "058",
		BankAccount: "0123456789",
		BankName:    "A CUSTOMER",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Wallet.Balance)
	assert.Equal(t, int64(10_000), res.Transaction.TotalAmount)
	require.NotNil(t, res.Transaction.BankCode)
	assert.Equal(t, "058", *res.Transaction.BankCode)
}

func TestTransferMovesValueAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	b, err := s.CreateWallet(ctx, "bob", "NGN")
	require.NoError(t, err)
	fund(t, s, a, 50_000)

	res, err := s.Transfer(ctx, TransferArgs{
		SenderWalletID:   a.ID,
		SenderID:         "alice",
		ReceiverWalletID: b.ID,
		ReceiverID:       "bob",
		Amount:           20_000,
		Reference:        "TXN-transfer-1",
	})
	require.NoError(t, err)

	tx := res.Transaction
	require.NotNil(t, tx.SenderBalanceBefore)
	require.NotNil(t, tx.ReceiverBalanceAfter)
	assert.Equal(t, int64(50_000), *tx.SenderBalanceBefore)
	assert.Equal(t, int64(30_000), *tx.SenderBalanceAfter)
	assert.Equal(t, int64(0), *tx.ReceiverBalanceBefore)
	assert.Equal(t, int64(20_000), *tx.ReceiverBalanceAfter)

	gotA, _ := s.WalletByUser(ctx, "alice")
	gotB, _ := s.WalletByUser(ctx, "bob")
	assert.Equal(t, int64(30_000), gotA.Balance)
	assert.Equal(t, int64(20_000), gotB.Balance)
}

func TestDuplicateReferenceReplays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	b, err := s.CreateWallet(ctx, "bob", "NGN")
	require.NoError(t, err)
	fund(t, s, a, 50_000)

	args := TransferArgs{
		SenderWalletID:   a.ID,
		SenderID:         "alice",
		ReceiverWalletID: b.ID,
		ReceiverID:       "bob",
		Amount:           20_000,
		Reference:        "TXN-once",
	}

	first, err := s.Transfer(ctx, args)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := s.Transfer(ctx, args)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	// The replay moved no money.
	gotA, _ := s.WalletByUser(ctx, "alice")
	gotB, _ := s.WalletByUser(ctx, "bob")
	assert.Equal(t, int64(30_000), gotA.Balance)
	assert.Equal(t, int64(20_000), gotB.Balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	fund(t, s, w, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Debit(ctx, DebitArgs{
				WalletID:  w.ID,
				UserID:    "alice",
				Amount:    80,
				Category:  wallet.CategoryBankWithdrawal,
				Reference: wallet.NewReference(),
				BankCode:  "058",
			})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		f, ok := wallet.AsFailure(err)
		require.True(t, ok, "unexpected error: %v", err)
		assert.Equal(t, wallet.KindInsufficientFunds, f.Kind)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	got, _ := s.WalletByUser(ctx, "alice")
	assert.Equal(t, int64(20), got.Balance)
}

func TestConcurrentTransfersConserveValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const wallets = 4
	const perWallet = int64(100_000)
	ws := make([]*wallet.Wallet, wallets)
	users := []string{"u0", "u1", "u2", "u3"}
	for i, u := range users {
		w, err := s.CreateWallet(ctx, u, "NGN")
		require.NoError(t, err)
		fund(t, s, w, perWallet)
		ws[i] = w
	}

	// Transfers in both directions over every pair, all at once.
	var wg sync.WaitGroup
	for i := 0; i < wallets; i++ {
		for j := 0; j < wallets; j++ {
			if i == j {
				continue
			}
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				_, err := s.Transfer(ctx, TransferArgs{
					SenderWalletID:   ws[i].ID,
					SenderID:         users[i],
					ReceiverWalletID: ws[j].ID,
					ReceiverID:       users[j],
					Amount:           1_000,
					Reference:        wallet.NewReference(),
				})
				assert.NoError(t, err)
			}(i, j)
		}
	}
	wg.Wait()

	var total int64
	for _, u := range users {
		w, err := s.WalletByUser(ctx, u)
		require.NoError(t, err)
		total += w.Balance
		// Everyone sent and received the same amounts.
		assert.Equal(t, perWallet, w.Balance)
	}
	assert.Equal(t, int64(wallets)*perWallet, total)
}

func TestDailyDebitTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	b, err := s.CreateWallet(ctx, "bob", "NGN")
	require.NoError(t, err)
	fund(t, s, a, 100_000)

	for _, amount := range []int64{10_000, 5_000} {
		_, err := s.Transfer(ctx, TransferArgs{
			SenderWalletID:   a.ID,
			SenderID:         "alice",
			ReceiverWalletID: b.ID,
			ReceiverID:       "bob",
			Amount:           amount,
			Reference:        wallet.NewReference(),
		})
		require.NoError(t, err)
	}

	since := time.Now().Add(-time.Hour)
	total, err := s.DailyDebitTotal(ctx, "alice", since)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000), total)

	// Credits do not count against the sender's daily total.
	total, err = s.DailyDebitTotal(ctx, "bob", since)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// A window starting in the future sees nothing.
	total, err = s.DailyDebitTotal(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestTransactionsFilterAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	b, err := s.CreateWallet(ctx, "bob", "NGN")
	require.NoError(t, err)
	fund(t, s, a, 100_000)

	_, err = s.Transfer(ctx, TransferArgs{
		SenderWalletID:   a.ID,
		SenderID:         "alice",
		ReceiverWalletID: b.ID,
		ReceiverID:       "bob",
		Amount:           10_000,
		Reference:        wallet.NewReference(),
	})
	require.NoError(t, err)

	all, total, err := s.Transactions(ctx, "alice", wallet.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	transfers, total, err := s.Transactions(ctx, "alice", wallet.TransactionFilter{
		Category: wallet.CategoryWalletTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, transfers, 1)
	assert.Equal(t, wallet.CategoryWalletTransfer, transfers[0].Category)

	// Bob sees the transfer as its receiver.
	bobTxs, _, err := s.Transactions(ctx, "bob", wallet.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, bobTxs, 1)

	paged, total, err := s.Transactions(ctx, "alice", wallet.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, paged, 1)
}

func TestWalletEntriesInCommitOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateWallet(ctx, "alice", "NGN")
	require.NoError(t, err)
	b, err := s.CreateWallet(ctx, "bob", "NGN")
	require.NoError(t, err)
	fund(t, s, a, 50_000)
	_, err = s.Transfer(ctx, TransferArgs{
		SenderWalletID:   a.ID,
		SenderID:         "alice",
		ReceiverWalletID: b.ID,
		ReceiverID:       "bob",
		Amount:           10_000,
		Reference:        wallet.NewReference(),
	})
	require.NoError(t, err)

	entries, err := s.WalletEntries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, wallet.CategoryBankFunding, entries[0].Category)
	assert.Equal(t, wallet.CategoryWalletTransfer, entries[1].Category)

	wallets, err := s.Wallets(ctx)
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestPINStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PINState(ctx, "alice")
	assert.Error(t, err)

	require.NoError(t, s.SetPINHash(ctx, "alice", "hash-1"))
	st, err := s.PINState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", st.Hash)
	assert.Equal(t, 0, st.Attempts)
	assert.Nil(t, st.LockedAt)

	locked := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SavePINState(ctx, "alice", 3, &locked))
	st, err = s.PINState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempts)
	require.NotNil(t, st.LockedAt)

	// Rehashing clears attempts and the lock.
	require.NoError(t, s.SetPINHash(ctx, "alice", "hash-2"))
	st, err = s.PINState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", st.Hash)
	assert.Equal(t, 0, st.Attempts)
	assert.Nil(t, st.LockedAt)
}
