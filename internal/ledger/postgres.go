package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/wallet"
)

// PostgresStore is the production ledger on PostgreSQL via pgx.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a ledger store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    id               BIGSERIAL PRIMARY KEY,
    user_id          TEXT NOT NULL UNIQUE,
    account_number   TEXT NOT NULL UNIQUE,
    balance          BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    previous_balance BIGINT NOT NULL DEFAULT 0,
    currency         TEXT NOT NULL DEFAULT 'NGN',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id                      BIGSERIAL PRIMARY KEY,
    reference               TEXT NOT NULL UNIQUE,
    type                    TEXT NOT NULL,
    category                TEXT NOT NULL,
    status                  TEXT NOT NULL,
    amount                  BIGINT NOT NULL,
    fee                     BIGINT NOT NULL,
    total_amount            BIGINT NOT NULL,
    description             TEXT NOT NULL DEFAULT '',
    sender_id               TEXT,
    sender_wallet_id        BIGINT,
    sender_balance_before   BIGINT,
    sender_balance_after    BIGINT,
    receiver_id             TEXT,
    receiver_wallet_id      BIGINT,
    receiver_balance_before BIGINT,
    receiver_balance_after  BIGINT,
    bank_code               TEXT,
    bank_account_number     TEXT,
    bank_account_name       TEXT,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender_day
    ON transactions (sender_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver
    ON transactions (receiver_id, created_at);

CREATE TABLE IF NOT EXISTS wallet_pins (
    user_id   TEXT PRIMARY KEY,
    hash      TEXT NOT NULL,
    attempts  INT NOT NULL DEFAULT 0,
    locked_at TIMESTAMPTZ
);
`

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, pgSchema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const walletColumns = `id, user_id, account_number, balance, previous_balance, currency, created_at, updated_at`

const txColumns = `id, reference, type, category, status, amount, fee, total_amount, description,
	sender_id, sender_wallet_id, sender_balance_before, sender_balance_after,
	receiver_id, receiver_wallet_id, receiver_balance_before, receiver_balance_after,
	bank_code, bank_account_number, bank_account_name, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(row scanner) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.AccountNumber, &w.Balance, &w.PreviousBalance,
		&w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row scanner) (*wallet.Transaction, error) {
	var t wallet.Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.Type, &t.Category, &t.Status,
		&t.Amount, &t.Fee, &t.TotalAmount, &t.Description,
		&t.SenderID, &t.SenderWalletID, &t.SenderBalanceBefore, &t.SenderBalanceAfter,
		&t.ReceiverID, &t.ReceiverWalletID, &t.ReceiverBalanceBefore, &t.ReceiverBalanceAfter,
		&t.BankCode, &t.BankAccount, &t.BankName, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateWallet creates the account's wallet exactly once. The unique
// user_id index makes a second creation fail rather than fork balances.
func (s *PostgresStore) CreateWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if currency == "" {
		currency = "NGN"
	}

	row := s.Pool.QueryRow(queryCtx, `
		INSERT INTO wallets (user_id, account_number, currency)
		VALUES ($1, $2, $3)
		RETURNING `+walletColumns,
		userID, wallet.NewAccountNumber(), currency)

	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return w, nil
}

// WalletByUser looks up the account's wallet.
func (s *PostgresStore) WalletByUser(ctx context.Context, userID string) (*wallet.Wallet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// WalletByAccountNumber resolves an externally supplied account number.
func (s *PostgresStore) WalletByAccountNumber(ctx context.Context, accountNumber string) (*wallet.Wallet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx, `SELECT `+walletColumns+` FROM wallets WHERE account_number = $1`, accountNumber)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// TransactionByReference fetches a transaction by its unique reference.
func (s *PostgresStore) TransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx, `SELECT `+txColumns+` FROM transactions WHERE reference = $1`, reference)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// Transactions lists the account's history, newest first, with the total
// count for pagination.
func (s *PostgresStore) Transactions(ctx context.Context, userID string, f wallet.TransactionFilter) ([]*wallet.Transaction, int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	where := `(sender_id = $1 OR receiver_id = $1)`
	args := []any{userID}
	n := 2
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, f.Type)
		n++
	}
	if f.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", n)
		args = append(args, f.Category)
		n++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
		n++
	}

	var total int
	if err := s.Pool.QueryRow(queryCtx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
		n++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, f.Offset)
	}

	rows, err := s.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*wallet.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// DailyDebitTotal sums SUCCESSFUL outgoing amounts since the given instant.
func (s *PostgresStore) DailyDebitTotal(ctx context.Context, userID string, since time.Time) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	var total int64
	err := s.Pool.QueryRow(queryCtx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE sender_id = $1 AND status = $2 AND created_at >= $3`,
		userID, wallet.StatusSuccessful, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("daily total: %w", err)
	}
	return total, nil
}

// Credit applies a single-wallet credit atomically.
func (s *PostgresStore) Credit(ctx context.Context, args CreditArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx pgx.Tx) (*MoveResult, error) {
		locked, err := s.lockWallets(txCtx, tx, args.WalletID)
		if err != nil {
			return nil, err
		}
		cur := locked[args.WalletID]

		newBalance := cur.Balance + args.Amount
		if err := s.writeBalance(txCtx, tx, cur.ID, newBalance, cur.Balance); err != nil {
			return nil, err
		}

		rec := &wallet.Transaction{
			Reference:             args.Reference,
			Type:                  wallet.TxCredit,
			Category:              args.Category,
			Status:                wallet.StatusSuccessful,
			Amount:                args.Amount,
			Fee:                   args.Fee,
			TotalAmount:           args.Amount + args.Fee,
			Description:           args.Description,
			ReceiverID:            &args.UserID,
			ReceiverWalletID:      &cur.ID,
			ReceiverBalanceBefore: &cur.Balance,
			ReceiverBalanceAfter:  &newBalance,
		}
		if err := s.insertTransaction(txCtx, tx, rec); err != nil {
			return nil, err
		}

		fresh := *cur
		fresh.PreviousBalance = cur.Balance
		fresh.Balance = newBalance
		return &MoveResult{Transaction: rec, Wallet: &fresh}, nil
	})
}

// Debit applies a single-wallet debit atomically, verifying funds under
// the lock.
func (s *PostgresStore) Debit(ctx context.Context, args DebitArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx pgx.Tx) (*MoveResult, error) {
		locked, err := s.lockWallets(txCtx, tx, args.WalletID)
		if err != nil {
			return nil, err
		}
		cur := locked[args.WalletID]

		total := args.Amount + args.Fee
		if cur.Balance < total {
			return nil, insufficientFunds()
		}

		newBalance := cur.Balance - total
		if err := s.writeBalance(txCtx, tx, cur.ID, newBalance, cur.Balance); err != nil {
			return nil, err
		}

		rec := &wallet.Transaction{
			Reference:           args.Reference,
			Type:                wallet.TxDebit,
			Category:            args.Category,
			Status:              wallet.StatusSuccessful,
			Amount:              args.Amount,
			Fee:                 args.Fee,
			TotalAmount:         total,
			Description:         args.Description,
			SenderID:            &args.UserID,
			SenderWalletID:      &cur.ID,
			SenderBalanceBefore: &cur.Balance,
			SenderBalanceAfter:  &newBalance,
		}
		if args.BankCode != "" {
			rec.BankCode = &args.BankCode
			rec.BankAccount = &args.BankAccount
			rec.BankName = &args.BankName
		}
		if err := s.insertTransaction(txCtx, tx, rec); err != nil {
			return nil, err
		}

		fresh := *cur
		fresh.PreviousBalance = cur.Balance
		fresh.Balance = newBalance
		return &MoveResult{Transaction: rec, Wallet: &fresh}, nil
	})
}

// Transfer moves value between two wallets atomically. Both advisory locks
// are taken in ascending wallet-id order regardless of direction.
func (s *PostgresStore) Transfer(ctx context.Context, args TransferArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx pgx.Tx) (*MoveResult, error) {
		locked, err := s.lockWallets(txCtx, tx, args.SenderWalletID, args.ReceiverWalletID)
		if err != nil {
			return nil, err
		}
		sender := locked[args.SenderWalletID]
		receiver := locked[args.ReceiverWalletID]

		total := args.Amount + args.Fee
		if sender.Balance < total {
			return nil, insufficientFunds()
		}

		senderNew := sender.Balance - total
		receiverNew := receiver.Balance + args.Amount

		if err := s.writeBalance(txCtx, tx, sender.ID, senderNew, sender.Balance); err != nil {
			return nil, err
		}
		if err := s.writeBalance(txCtx, tx, receiver.ID, receiverNew, receiver.Balance); err != nil {
			return nil, err
		}

		rec := &wallet.Transaction{
			Reference:             args.Reference,
			Type:                  wallet.TxDebit,
			Category:              wallet.CategoryWalletTransfer,
			Status:                wallet.StatusSuccessful,
			Amount:                args.Amount,
			Fee:                   args.Fee,
			TotalAmount:           total,
			Description:           args.Description,
			SenderID:              &args.SenderID,
			SenderWalletID:        &sender.ID,
			SenderBalanceBefore:   &sender.Balance,
			SenderBalanceAfter:    &senderNew,
			ReceiverID:            &args.ReceiverID,
			ReceiverWalletID:      &receiver.ID,
			ReceiverBalanceBefore: &receiver.Balance,
			ReceiverBalanceAfter:  &receiverNew,
		}
		if err := s.insertTransaction(txCtx, tx, rec); err != nil {
			return nil, err
		}

		fresh := *sender
		fresh.PreviousBalance = sender.Balance
		fresh.Balance = senderNew
		return &MoveResult{Transaction: rec, Wallet: &fresh}, nil
	})
}

// withUnitOfWork runs fn inside one SERIALIZABLE transaction bounded by
// OpTimeout, retrying serialization conflicts and resolving duplicate
// references to the original record.
func (s *PostgresStore) withUnitOfWork(ctx context.Context, reference string, fn func(context.Context, pgx.Tx) (*MoveResult, error)) (*MoveResult, error) {
	var lastErr error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		res, err := s.runUnitOfWork(ctx, fn)
		if err == nil {
			return res, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "40001", "40P01":
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			case "23505":
				// Duplicate reference. The aborted attempt wrote nothing;
				// surface the original record as an idempotent success.
				orig, lookupErr := s.TransactionByReference(ctx, reference)
				if lookupErr != nil {
					return nil, fmt.Errorf("resolve duplicate reference: %w", lookupErr)
				}
				return &MoveResult{Transaction: orig, Duplicate: true}, nil
			}
		}
		if isTimeout(err) {
			return nil, retryable("unit of work timed out")
		}
		return nil, err
	}
	return nil, retryable(fmt.Sprintf("serialization conflict after %d attempts: %v", serializationRetries, lastErr))
}

func (s *PostgresStore) runUnitOfWork(ctx context.Context, fn func(context.Context, pgx.Tx) (*MoveResult, error)) (*MoveResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	conn, err := s.Pool.Acquire(txCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(txCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(txCtx)

	res, err := fn(txCtx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// lockWallets takes transaction-scoped advisory locks on the given wallet
// ids in ascending order, then re-reads each wallet inside the transaction
// so balance checks see the value the writes will build on.
func (s *PostgresStore) lockWallets(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]*wallet.Wallet, error) {
	ordered := append([]int64(nil), ids...)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j] < ordered[i] {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, id := range ordered {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
			return nil, fmt.Errorf("advisory lock wallet %d: %w", id, err)
		}
	}

	out := make(map[int64]*wallet.Wallet, len(ordered))
	for _, id := range ordered {
		row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
		w, err := scanWallet(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, wallet.ErrWalletNotFound
			}
			return nil, fmt.Errorf("read wallet %d: %w", id, err)
		}
		out[id] = w
	}
	return out, nil
}

func (s *PostgresStore) writeBalance(ctx context.Context, tx pgx.Tx, walletID, newBalance, prevBalance int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = $2, previous_balance = $3, updated_at = now()
		WHERE id = $1`,
		walletID, newBalance, prevBalance)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func (s *PostgresStore) insertTransaction(ctx context.Context, tx pgx.Tx, t *wallet.Transaction) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			reference, type, category, status, amount, fee, total_amount, description,
			sender_id, sender_wallet_id, sender_balance_before, sender_balance_after,
			receiver_id, receiver_wallet_id, receiver_balance_before, receiver_balance_after,
			bank_code, bank_account_number, bank_account_name
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id, created_at`,
		t.Reference, t.Type, t.Category, t.Status, t.Amount, t.Fee, t.TotalAmount, t.Description,
		t.SenderID, t.SenderWalletID, t.SenderBalanceBefore, t.SenderBalanceAfter,
		t.ReceiverID, t.ReceiverWalletID, t.ReceiverBalanceBefore, t.ReceiverBalanceAfter,
		t.BankCode, t.BankAccount, t.BankName)
	return row.Scan(&t.ID, &t.CreatedAt)
}

// Wallets lists every wallet for the reconciler.
func (s *PostgresStore) Wallets(ctx context.Context) ([]*wallet.Wallet, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []*wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WalletEntries returns every transaction touching a wallet in commit
// order, for balance replay.
func (s *PostgresStore) WalletEntries(ctx context.Context, walletID int64) ([]*wallet.Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE sender_wallet_id = $1 OR receiver_wallet_id = $1
		ORDER BY id`, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet entries: %w", err)
	}
	defer rows.Close()

	var out []*wallet.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PINState loads the account's PIN state.
func (s *PostgresStore) PINState(ctx context.Context, accountID string) (*pin.State, error) {
	var st pin.State
	err := s.Pool.QueryRow(ctx, `SELECT hash, attempts, locked_at FROM wallet_pins WHERE user_id = $1`, accountID).
		Scan(&st.Hash, &st.Attempts, &st.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pin.ErrNotConfigured
		}
		return nil, fmt.Errorf("get pin state: %w", err)
	}
	return &st, nil
}

// SavePINState persists the attempt counter and lockout timestamp.
func (s *PostgresStore) SavePINState(ctx context.Context, accountID string, attempts int, lockedAt *time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE wallet_pins SET attempts = $2, locked_at = $3 WHERE user_id = $1`,
		accountID, attempts, lockedAt)
	if err != nil {
		return fmt.Errorf("save pin state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return pin.ErrNotConfigured
	}
	return nil
}

// SetPINHash installs a new hash, clearing attempts and any lockout.
func (s *PostgresStore) SetPINHash(ctx context.Context, accountID, hash string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO wallet_pins (user_id, hash, attempts, locked_at)
		VALUES ($1, $2, 0, NULL)
		ON CONFLICT (user_id)
		DO UPDATE SET hash = EXCLUDED.hash, attempts = 0, locked_at = NULL`,
		accountID, hash)
	if err != nil {
		return fmt.Errorf("set pin hash: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.Pool.Close()
}
