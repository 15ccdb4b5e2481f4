package wallet

import (
	"errors"
	"fmt"
)

// Sentinel lookup errors.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// FailureKind is the stable, user-visible classification of a movement
// failure. Handlers map kinds to HTTP statuses; internal error text never
// crosses the API boundary.
type FailureKind string

const (
	KindInvalidArgument     FailureKind = "invalid_argument"
	KindAuthorizationFailed FailureKind = "authorization_failed"
	KindLimitExceeded       FailureKind = "limit_exceeded"
	KindInsufficientFunds   FailureKind = "insufficient_funds"
	KindRecipientNotFound   FailureKind = "recipient_not_found"
	KindSelfTransfer        FailureKind = "self_transfer"
	KindDuplicateReference  FailureKind = "duplicate_reference"
	KindRetryable           FailureKind = "retryable"
)

// Failure is a typed movement failure. Retryable is the only kind a caller
// should resubmit automatically; every other kind requires correction.
type Failure struct {
	Kind FailureKind
	Msg  string

	// AttemptsLeft accompanies authorization failures.
	AttemptsLeft *int
	// Limit and Remaining accompany limit failures.
	Limit     int64
	Remaining int64
}

func (f *Failure) Error() string {
	if f.Msg == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

// Retryable reports whether a caller may safely retry the whole operation.
func (f *Failure) Retryable() bool { return f.Kind == KindRetryable }

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Msg: msg}
}

// AsFailure unwraps a typed Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
