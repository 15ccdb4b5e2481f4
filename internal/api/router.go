// Package api exposes the movement engine over HTTP. All money routes
// sit behind bearer auth; body limits, correlation IDs, per-account rate
// limiting, and audit logging apply to every mutating request.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/wallet-infra/internal/auth"
	"github.com/example/wallet-infra/internal/engine"
	"github.com/example/wallet-infra/internal/ledger"
	"github.com/example/wallet-infra/internal/metrics"
	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/security"
	"github.com/example/wallet-infra/internal/wallet"
	"github.com/example/wallet-infra/pkg/audit"
)

const defaultMaxBodyBytes = 1 << 16

// Auditor receives one sealed entry per mutating operation.
type Auditor interface {
	Append(actor, action, reference, detail string) (*audit.Entry, error)
}

type Dependencies struct {
	Logger       *slog.Logger
	Engine       *engine.Engine
	PINGuard     *pin.Guard
	JWTValidator *auth.JWTValidator

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	Metrics      *metrics.Metrics
	Currency     string
	MaxBodyBytes int64
}

// audit records a mutating operation. Audit failures are logged, never
// surfaced: the movement already committed.
func (d Dependencies) audit(actor, action string, res *ledger.MoveResult) {
	if d.Auditor == nil {
		return
	}
	reference, detail := "", ""
	if res != nil {
		reference = res.Transaction.Reference
		detail = fmt.Sprintf("category=%s amount=%d fee=%d duplicate=%t",
			res.Transaction.Category, res.Transaction.Amount, res.Transaction.Fee, res.Duplicate)
	}
	if _, err := d.Auditor.Append(actor, action, reference, detail); err != nil && d.Logger != nil {
		d.Logger.Error("audit append failed", "action", action, "error", err.Error())
	}
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}

	fundV, err := security.NewSchemaValidator(fundSchema)
	if err != nil {
		return nil, err
	}
	transferV, err := security.NewSchemaValidator(transferSchema)
	if err != nil {
		return nil, err
	}
	withdrawV, err := security.NewSchemaValidator(withdrawSchema)
	if err != nil {
		return nil, err
	}
	pinSetupV, err := security.NewSchemaValidator(pinSetupSchema)
	if err != nil {
		return nil, err
	}
	pinChangeV, err := security.NewSchemaValidator(pinChangeSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(InstrumentHTTP(deps.Metrics))
	}
	r.Use(security.MaxBodyBytes(deps.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))
		if deps.RateLimiter != nil {
			r.Use(security.RateLimit(deps.RateLimiter, security.AccountKey))
		}

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", handleGetWallet(deps))

			r.With(fundV.Middleware).Post("/fund/bank", handleFund(deps, wallet.CategoryBankFunding))
			r.With(fundV.Middleware).Post("/fund/card", handleFund(deps, wallet.CategoryCardFunding))
			r.With(transferV.Middleware).Post("/transfer", handleTransfer(deps))
			r.With(withdrawV.Middleware).Post("/withdraw", handleWithdraw(deps))

			r.Get("/transactions", handleListTransactions(deps))
			r.Get("/transactions/{reference}", handleGetTransaction(deps))
		})

		r.Route("/pin", func(r chi.Router) {
			r.With(pinSetupV.Middleware).Post("/", handleSetupPIN(deps))
			r.With(pinChangeV.Middleware).Put("/", handleChangePIN(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
