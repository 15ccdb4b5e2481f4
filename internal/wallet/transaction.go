package wallet

import "time"

// TxType is the movement direction from the primary actor's perspective.
type TxType string

const (
	TxCredit TxType = "CREDIT"
	TxDebit  TxType = "DEBIT"
)

// TxCategory classifies how value entered or left the system.
type TxCategory string

const (
	CategoryBankFunding    TxCategory = "BANK_FUNDING"
	CategoryCardFunding    TxCategory = "CARD_FUNDING"
	CategoryWalletTransfer TxCategory = "WALLET_TRANSFER"
	CategoryBankWithdrawal TxCategory = "BANK_WITHDRAWAL"
	CategoryRefund         TxCategory = "REFUND"
)

// TxStatus is the settlement status of a transaction record.
type TxStatus string

const (
	StatusPending    TxStatus = "PENDING"
	StatusSuccessful TxStatus = "SUCCESSFUL"
	StatusFailed     TxStatus = "FAILED"
)

// Transaction is the immutable record of one completed value movement.
// Before/after balance pairs are written in the same unit of work as the
// wallet mutation and are never backfilled.
type Transaction struct {
	ID          int64      `json:"id"`
	Reference   string     `json:"reference"`
	Type        TxType     `json:"type"`
	Category    TxCategory `json:"category"`
	Status      TxStatus   `json:"status"`
	Amount      int64      `json:"amount"`
	Fee         int64      `json:"fee"`
	TotalAmount int64      `json:"total_amount"`
	Description string     `json:"description"`

	SenderID            *string `json:"sender_id,omitempty"`
	SenderWalletID      *int64  `json:"sender_wallet_id,omitempty"`
	SenderBalanceBefore *int64  `json:"sender_balance_before,omitempty"`
	SenderBalanceAfter  *int64  `json:"sender_balance_after,omitempty"`

	ReceiverID            *string `json:"receiver_id,omitempty"`
	ReceiverWalletID      *int64  `json:"receiver_wallet_id,omitempty"`
	ReceiverBalanceBefore *int64  `json:"receiver_balance_before,omitempty"`
	ReceiverBalanceAfter  *int64  `json:"receiver_balance_after,omitempty"`

	// External rail metadata, set for bank withdrawals only.
	BankCode    *string `json:"bank_code,omitempty"`
	BankAccount *string `json:"bank_account_number,omitempty"`
	BankName    *string `json:"bank_account_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TransactionFilter narrows transaction history listings.
type TransactionFilter struct {
	Type     TxType
	Category TxCategory
	Status   TxStatus
	Limit    int
	Offset   int
}
