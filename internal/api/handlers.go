package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/wallet-infra/internal/auth"
	"github.com/example/wallet-infra/internal/engine"
	"github.com/example/wallet-infra/internal/ledger"
	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/security"
	"github.com/example/wallet-infra/internal/wallet"
)

type walletResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Wallet        *wallet.Wallet `json:"wallet"`
}

type movementRequest struct {
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description,omitempty"`

	// transfer
	AccountNumber string `json:"account_number,omitempty"`
	PIN           string `json:"pin,omitempty"`

	// withdrawal
	BankCode    string `json:"bank_code,omitempty"`
	BankAccount string `json:"bank_account_number,omitempty"`
	BankName    string `json:"bank_account_name,omitempty"`
}

type movementResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Duplicate     bool                `json:"duplicate"`
	Transaction   *wallet.Transaction `json:"transaction"`
	Wallet        *wallet.Wallet      `json:"wallet,omitempty"`
}

type transactionsResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Total         int                   `json:"total"`
	Transactions  []*wallet.Transaction `json:"transactions"`
}

type pinRequest struct {
	PIN    string `json:"pin"`
	OldPIN string `json:"old_pin,omitempty"`
	NewPIN string `json:"new_pin,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			security.WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
			return false
		}
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// writeMovementError maps the engine's failure taxonomy onto the stable
// error codes and statuses of the API.
func writeMovementError(w http.ResponseWriter, r *http.Request, err error) {
	if f, ok := wallet.AsFailure(err); ok {
		status := http.StatusBadRequest
		var details map[string]any
		switch f.Kind {
		case wallet.KindAuthorizationFailed:
			status = http.StatusForbidden
			if f.AttemptsLeft != nil {
				details = map[string]any{"attempts_left": *f.AttemptsLeft}
			}
		case wallet.KindRecipientNotFound:
			status = http.StatusNotFound
		case wallet.KindDuplicateReference:
			status = http.StatusConflict
		case wallet.KindRetryable:
			status = http.StatusServiceUnavailable
		case wallet.KindLimitExceeded:
			details = map[string]any{"limit": f.Limit, "remaining": f.Remaining}
		}
		security.WriteJSONErrorDetails(w, r, status, string(f.Kind), details)
		return
	}
	switch {
	case errors.Is(err, pin.ErrNotConfigured):
		security.WriteJSONError(w, r, http.StatusForbidden, "pin_not_set")
	case errors.Is(err, wallet.ErrWalletNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "wallet_not_found")
	case errors.Is(err, wallet.ErrTransactionNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "transaction_not_found")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}

func handleGetWallet(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		wlt, err := deps.Engine.EnsureWallet(r.Context(), p.AccountID, deps.Currency)
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, walletResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Wallet:        wlt,
		})
	}
}

func handleFund(deps Dependencies, category wallet.TxCategory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req movementRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := deps.Engine.Fund(r.Context(), engine.FundArgs{
			AccountID:   p.AccountID,
			Tier:        p.Tier,
			Amount:      req.Amount,
			Category:    category,
			Reference:   req.Reference,
			Description: req.Description,
		})
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		deps.audit(p.AccountID, "wallet.fund", res)
		writeMovement(w, r, res)
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req movementRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := deps.Engine.Transfer(r.Context(), engine.TransferArgs{
			SenderID:         p.AccountID,
			Tier:             p.Tier,
			RecipientAccount: req.AccountNumber,
			Amount:           req.Amount,
			PIN:              req.PIN,
			Reference:        req.Reference,
			Description:      req.Description,
		})
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		deps.audit(p.AccountID, "wallet.transfer", res)
		writeMovement(w, r, res)
	}
}

func handleWithdraw(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req movementRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := deps.Engine.Withdraw(r.Context(), engine.WithdrawArgs{
			AccountID:   p.AccountID,
			Tier:        p.Tier,
			Amount:      req.Amount,
			PIN:         req.PIN,
			BankCode:    req.BankCode,
			BankAccount: req.BankAccount,
			BankName:    req.BankName,
			Reference:   req.Reference,
			Description: req.Description,
		})
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		deps.audit(p.AccountID, "wallet.withdraw", res)
		writeMovement(w, r, res)
	}
}

func writeMovement(w http.ResponseWriter, r *http.Request, res *ledger.MoveResult) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, movementResponse{
		CorrelationID: security.CorrelationIDFromContext(r.Context()),
		Duplicate:     res.Duplicate,
		Transaction:   res.Transaction,
		Wallet:        res.Wallet,
	})
}

func handleListTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		f := wallet.TransactionFilter{
			Type:     wallet.TxType(r.URL.Query().Get("type")),
			Category: wallet.TxCategory(r.URL.Query().Get("category")),
			Status:   wallet.TxStatus(r.URL.Query().Get("status")),
			Limit:    50,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i > 0 && i <= 500 {
				f.Limit = i
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i >= 0 {
				f.Offset = i
			}
		}

		txs, total, err := deps.Engine.Transactions(r.Context(), p.AccountID, f)
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		if txs == nil {
			txs = []*wallet.Transaction{}
		}
		writeJSON(w, http.StatusOK, transactionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Total:         total,
			Transactions:  txs,
		})
	}
}

func handleGetTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		t, err := deps.Engine.TransactionByReference(r.Context(), p.AccountID, chi.URLParam(r, "reference"))
		if err != nil {
			writeMovementError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, movementResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transaction:   t,
		})
	}
}

func handleSetupPIN(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req pinRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := deps.PINGuard.Setup(r.Context(), p.AccountID, req.PIN); err != nil {
			writeMovementError(w, r, err)
			return
		}
		deps.audit(p.AccountID, "pin.setup", nil)
		writeJSON(w, http.StatusCreated, map[string]string{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"status":         "pin_set",
		})
	}
}

func handleChangePIN(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req pinRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := deps.PINGuard.Change(r.Context(), p.AccountID, req.OldPIN, req.NewPIN); err != nil {
			writeMovementError(w, r, err)
			return
		}
		deps.audit(p.AccountID, "pin.change", nil)
		writeJSON(w, http.StatusOK, map[string]string{
			"correlation_id": security.CorrelationIDFromContext(r.Context()),
			"status":         "pin_changed",
		})
	}
}
