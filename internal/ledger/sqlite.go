package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/wallet"
)

// SQLiteStore is the embedded ledger used for development and tests. It
// honors the same unit-of-work contract as PostgresStore: SQLite's
// single-writer lock plays the role of the advisory locks, so all units
// of work touching any wallet serialize and no lock cycle can form.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id          TEXT NOT NULL UNIQUE,
    account_number   TEXT NOT NULL UNIQUE,
    balance          INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    previous_balance INTEGER NOT NULL DEFAULT 0,
    currency         TEXT NOT NULL DEFAULT 'NGN',
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    reference               TEXT NOT NULL UNIQUE,
    type                    TEXT NOT NULL,
    category                TEXT NOT NULL,
    status                  TEXT NOT NULL,
    amount                  INTEGER NOT NULL,
    fee                     INTEGER NOT NULL,
    total_amount            INTEGER NOT NULL,
    description             TEXT NOT NULL DEFAULT '',
    sender_id               TEXT,
    sender_wallet_id        INTEGER,
    sender_balance_before   INTEGER,
    sender_balance_after    INTEGER,
    receiver_id             TEXT,
    receiver_wallet_id      INTEGER,
    receiver_balance_before INTEGER,
    receiver_balance_after  INTEGER,
    bank_code               TEXT,
    bank_account_number     TEXT,
    bank_account_name       TEXT,
    created_at              TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender_day
    ON transactions (sender_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver
    ON transactions (receiver_id, created_at);

CREATE TABLE IF NOT EXISTS wallet_pins (
    user_id   TEXT PRIMARY KEY,
    hash      TEXT NOT NULL,
    attempts  INTEGER NOT NULL DEFAULT 0,
    locked_at TIMESTAMP
);
`

// NewSQLiteStore opens (or creates) a SQLite ledger at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite is single-writer and this keeps an in-memory
	// database from vanishing between pool connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateWallet creates the account's wallet exactly once.
func (s *SQLiteStore) CreateWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error) {
	if currency == "" {
		currency = "NGN"
	}
	now := time.Now().UTC()
	accountNumber := wallet.NewAccountNumber()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, account_number, balance, previous_balance, currency, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?)`,
		userID, accountNumber, currency, now, now)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	return &wallet.Wallet{
		ID:            id,
		UserID:        userID,
		AccountNumber: accountNumber,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// WalletByUser looks up the account's wallet.
func (s *SQLiteStore) WalletByUser(ctx context.Context, userID string) (*wallet.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`, userID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// WalletByAccountNumber resolves an externally supplied account number.
func (s *SQLiteStore) WalletByAccountNumber(ctx context.Context, accountNumber string) (*wallet.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_number = ?`, accountNumber)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// TransactionByReference fetches a transaction by its unique reference.
func (s *SQLiteStore) TransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = ?`, reference)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// Transactions lists the account's history, newest first.
func (s *SQLiteStore) Transactions(ctx context.Context, userID string, f wallet.TransactionFilter) ([]*wallet.Transaction, int, error) {
	where := `(sender_id = ? OR receiver_id = ?)`
	args := []any{userID, userID}
	if f.Type != "" {
		where += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Category != "" {
		where += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) DailyDebitTotal(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE sender_id = ? AND status = ? AND created_at >= ?`,
		userID, wallet.StatusSuccessful, since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("daily total: %w", err)
	}
	return total, nil
}

// Credit applies a single-wallet credit atomically.
func (s *SQLiteStore) Credit(ctx context.Context, args CreditArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx *sql.Tx) (*MoveResult, error) {
		cur, err := s.readWallet(txCtx, tx, args.WalletID)
		if err != nil {
			return nil, err
		}

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

// Debit applies a single-wallet debit atomically, verifying funds inside
// the write transaction.
func (s *SQLiteStore) Debit(ctx context.Context, args DebitArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx *sql.Tx) (*MoveResult, error) {
		cur, err := s.readWallet(txCtx, tx, args.WalletID)
		if err != nil {
			return nil, err
		}

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

// Transfer moves value between two wallets atomically. Wallets are read in
// ascending id order for determinism even though SQLite's write lock
// already serializes the units of work.
func (s *SQLiteStore) Transfer(ctx context.Context, args TransferArgs) (*MoveResult, error) {
	return s.withUnitOfWork(ctx, args.Reference, func(txCtx context.Context, tx *sql.Tx) (*MoveResult, error) {
		first, second := args.SenderWalletID, args.ReceiverWalletID
		if second < first {
			first, second = second, first
		}
		read := map[int64]*wallet.Wallet{}
		for _, id := range []int64{first, second} {
			w, err := s.readWallet(txCtx, tx, id)
			if err != nil {
				return nil, err
			}
			read[id] = w
		}
		sender := read[args.SenderWalletID]
		receiver := read[args.ReceiverWalletID]

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

// withUnitOfWork runs fn inside one immediate write transaction bounded
// by OpTimeout, mapping busy/locked to Retryable and duplicate references
// to the original record.
func (s *SQLiteStore) withUnitOfWork(ctx context.Context, reference string, fn func(context.Context, *sql.Tx) (*MoveResult, error)) (*MoveResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if isTimeout(err) || isBusy(err) {
			return nil, retryable("could not begin unit of work")
		}
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := fn(txCtx, tx)
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			orig, lookupErr := s.TransactionByReference(ctx, reference)
			if lookupErr != nil {
				return nil, fmt.Errorf("resolve duplicate reference: %w", lookupErr)
			}
			return &MoveResult{Transaction: orig, Duplicate: true}, nil
		}
		if isTimeout(err) || isBusy(err) {
			return nil, retryable("unit of work timed out")
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isTimeout(err) || isBusy(err) {
			return nil, retryable("commit timed out")
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *SQLiteStore) readWallet(ctx context.Context, tx *sql.Tx, id int64) (*wallet.Wallet, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("read wallet %d: %w", id, err)
	}
	return w, nil
}

func (s *SQLiteStore) writeBalance(ctx context.Context, tx *sql.Tx, walletID, newBalance, prevBalance int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = ?, previous_balance = ?, updated_at = ?
		WHERE id = ?`,
		newBalance, prevBalance, time.Now().UTC(), walletID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if n != 1 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func (s *SQLiteStore) insertTransaction(ctx context.Context, tx *sql.Tx, t *wallet.Transaction) error {
	t.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			reference, type, category, status, amount, fee, total_amount, description,
			sender_id, sender_wallet_id, sender_balance_before, sender_balance_after,
			receiver_id, receiver_wallet_id, receiver_balance_before, receiver_balance_after,
			bank_code, bank_account_number, bank_account_name, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Reference, t.Type, t.Category, t.Status, t.Amount, t.Fee, t.TotalAmount, t.Description,
		t.SenderID, t.SenderWalletID, t.SenderBalanceBefore, t.SenderBalanceAfter,
		t.ReceiverID, t.ReceiverWalletID, t.ReceiverBalanceBefore, t.ReceiverBalanceAfter,
		t.BankCode, t.BankAccount, t.BankName, t.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// Wallets lists every wallet for the reconciler.
func (s *SQLiteStore) Wallets(ctx context.Context) ([]*wallet.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
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

// WalletEntries returns every transaction touching a wallet in commit order.
func (s *SQLiteStore) WalletEntries(ctx context.Context, walletID int64) ([]*wallet.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE sender_wallet_id = ? OR receiver_wallet_id = ?
		ORDER BY id`, walletID, walletID)
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
func (s *SQLiteStore) PINState(ctx context.Context, accountID string) (*pin.State, error) {
	var st pin.State
	err := s.db.QueryRowContext(ctx, `SELECT hash, attempts, locked_at FROM wallet_pins WHERE user_id = ?`, accountID).
		Scan(&st.Hash, &st.Attempts, &st.LockedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pin.ErrNotConfigured
		}
		return nil, fmt.Errorf("get pin state: %w", err)
	}
	return &st, nil
}

// SavePINState persists the attempt counter and lockout timestamp.
func (s *SQLiteStore) SavePINState(ctx context.Context, accountID string, attempts int, lockedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wallet_pins SET attempts = ?, locked_at = ? WHERE user_id = ?`,
		attempts, lockedAt, accountID)
	if err != nil {
		return fmt.Errorf("save pin state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save pin state: %w", err)
	}
	if n != 1 {
		return pin.ErrNotConfigured
	}
	return nil
}

// SetPINHash installs a new hash, clearing attempts and any lockout.
func (s *SQLiteStore) SetPINHash(ctx context.Context, accountID, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_pins (user_id, hash, attempts, locked_at)
		VALUES (?, ?, 0, NULL)
		ON CONFLICT (user_id)
		DO UPDATE SET hash = excluded.hash, attempts = 0, locked_at = NULL`,
		accountID, hash)
	if err != nil {
		return fmt.Errorf("set pin hash: %w", err)
	}
	return nil
}
