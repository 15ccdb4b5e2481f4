// Package pin implements the transaction PIN guard: bcrypt verification
// with attempt counting and a fixed lockout window.
package pin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/wallet-infra/internal/wallet"
)

const (
	maxAttempts   = 5
	lockoutWindow = 30 * time.Minute
	bcryptCost    = 10
)

// ErrNotConfigured is returned by stores when an account has no PIN hash.
var ErrNotConfigured = errors.New("pin not configured")

var pinFormat = regexp.MustCompile(`^\d{4,6}$`)

// State is the persisted PIN state for one account.
type State struct {
	Hash     string
	Attempts int
	LockedAt *time.Time
}

// Store persists PIN state. Attempt/lock updates are written synchronously
// on every verification; last-write-wins on the counter is acceptable, the
// eventual lock decision is what must hold before any debit proceeds.
type Store interface {
	PINState(ctx context.Context, accountID string) (*State, error)
	SavePINState(ctx context.Context, accountID string, attempts int, lockedAt *time.Time) error
	SetPINHash(ctx context.Context, accountID, hash string) error
}

// Guard verifies transaction PINs for the transfer coordinator.
type Guard struct {
	store Store
	now   func() time.Time
}

// NewGuard creates a guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// WithClock overrides the guard's clock. Test hook.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Authorize verifies rawPIN for the account. A nil return means
// authorized. Failures carry remaining attempts where applicable.
//
// A verification attempted inside the lockout window is rejected
// regardless of correctness, and the window is not extended by further
// attempts. A correct PIN resets the attempt counter but never clears
// lockedAt; only Setup or Change do that.
func (g *Guard) Authorize(ctx context.Context, accountID, rawPIN string) error {
	st, err := g.store.PINState(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return &wallet.Failure{Kind: wallet.KindAuthorizationFailed, Msg: "transaction PIN not set"}
		}
		return fmt.Errorf("load pin state: %w", err)
	}
	if st.Hash == "" {
		return &wallet.Failure{Kind: wallet.KindAuthorizationFailed, Msg: "transaction PIN not set"}
	}

	if st.LockedAt != nil && g.now().Before(st.LockedAt.Add(lockoutWindow)) {
		return &wallet.Failure{Kind: wallet.KindAuthorizationFailed, Msg: "PIN is locked, try again later"}
	}

	if bcrypt.CompareHashAndPassword([]byte(st.Hash), []byte(rawPIN)) != nil {
		attempts := st.Attempts + 1
		lockedAt := st.LockedAt
		if attempts >= maxAttempts {
			now := g.now()
			lockedAt = &now
		}
		if err := g.store.SavePINState(ctx, accountID, attempts, lockedAt); err != nil {
			return fmt.Errorf("save pin state: %w", err)
		}
		left := maxAttempts - attempts
		if left < 0 {
			left = 0
		}
		return &wallet.Failure{Kind: wallet.KindAuthorizationFailed, Msg: "invalid PIN", AttemptsLeft: &left}
	}

	// Reset the counter but keep lockedAt so an expired lock still shows in
	// the audit trail until the PIN is changed.
	if st.Attempts != 0 {
		if err := g.store.SavePINState(ctx, accountID, 0, st.LockedAt); err != nil {
			return fmt.Errorf("save pin state: %w", err)
		}
	}
	return nil
}

// Setup hashes and stores a new PIN, clearing attempts and any lockout.
func (g *Guard) Setup(ctx context.Context, accountID, rawPIN string) error {
	if !pinFormat.MatchString(rawPIN) {
		return &wallet.Failure{Kind: wallet.KindInvalidArgument, Msg: "PIN must be 4 to 6 digits"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPIN), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := g.store.SetPINHash(ctx, accountID, string(hash)); err != nil {
		return fmt.Errorf("store pin: %w", err)
	}
	return nil
}

// Change verifies the old PIN through the normal guard path (so attempt
// counting and lockout apply) and then installs the new one.
func (g *Guard) Change(ctx context.Context, accountID, oldPIN, newPIN string) error {
	if err := g.Authorize(ctx, accountID, oldPIN); err != nil {
		return err
	}
	return g.Setup(ctx, accountID, newPIN)
}
