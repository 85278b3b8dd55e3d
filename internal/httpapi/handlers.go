package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"postage.org/internal/auth"
	"postage.org/internal/engine"
	"postage.org/internal/events"
	"postage.org/internal/idempotency"
	"postage.org/internal/obs"
)

const serviceName = "postaged"

// Pinger is a dependency the service needs to be ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every dependency by name.
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rp.Checks[name].Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wire the HTTP layer.
type Options struct {
	Engine      *engine.Engine
	Stream      *events.Stream
	Idempotency idempotency.Store
	Ready       readinessChecker
	Version     string
	// DevTokens exposes token issuance and ledger funding for local runs.
	DevTokens  bool
	TokenTTL   time.Duration
	RateBurst  int
	RatePerSec float64
	CORSOrigin string
	MaxBody    int64
}

// API is the HTTP surface of the settlement engine.
type API struct {
	eng      *engine.Engine
	stream   *events.Stream
	idem     idempotency.Store
	ready    readinessChecker
	version  string
	dev      bool
	tokenTTL time.Duration

	rateBurst  int
	ratePerSec float64
	corsOrigin string
	maxBody    int64
}

func New(opts Options) *API {
	a := &API{
		eng:        opts.Engine,
		stream:     opts.Stream,
		idem:       opts.Idempotency,
		ready:      opts.Ready,
		version:    opts.Version,
		dev:        opts.DevTokens,
		tokenTTL:   opts.TokenTTL,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		corsOrigin: opts.CORSOrigin,
		maxBody:    opts.MaxBody,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.idem == nil {
		a.idem = idempotency.NewMemoryStore(nil)
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 15 * time.Minute
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 50
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.corsOrigin))
	r.Use(MaxBodyBytes(a.maxBody))
	r.Use(func(next http.Handler) http.Handler {
		return RateLimit(next, a.rateBurst, a.ratePerSec)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	if a.dev {
		r.Post("/v1/auth/token", a.handleAuthToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authn)

		r.Get("/v1/platform", a.getPlatform)
		r.Put("/v1/platform/treasury", a.setTreasury)
		r.Put("/v1/platform/policy", a.setPolicy)

		r.Route("/v1/topics", func(r chi.Router) {
			r.Post("/fees", a.setTopicFees)
			r.Route("/{topic}", func(r chi.Router) {
				r.Get("/fee", a.getTopicFee)
				r.Put("/fee", a.setTopicFee)
				r.Get("/escrow", a.getEscrow)
				r.Put("/escrow", a.enableEscrow)
				r.Delete("/escrow", a.disableEscrow)
				r.Get("/deposits/pending", a.pendingDeposits)
				r.Post("/messages", a.settleMessage)
			})
		})
		r.Route("/v1/apps/{app}", func(r chi.Router) {
			r.Get("/creation-fee", a.getCreationFee)
			r.Put("/creation-fee", a.setCreationFee)
			r.Post("/topics", a.settleTopicCreation)
		})
		r.Route("/v1/deposits/{id}", func(r chi.Router) {
			r.Get("/", a.getDeposit)
			r.Get("/status", a.getDepositStatus)
			r.Get("/refundable", a.getRefundable)
			r.Post("/refund", a.claimRefund)
		})
		r.Post("/v1/refunds", a.batchRefund)

		r.Get("/v1/balances/{owner}", a.getBalance)
		r.Get("/v1/allowances/{owner}", a.getAllowance)
		r.Post("/v1/allowances", a.approve)
		r.Get("/v1/custody", a.getCustody)
		r.Get("/v1/transfers", a.listTransfers)
		r.Get("/v1/events/stream", a.Stream)

		if a.dev {
			r.With(RequireRole(auth.RoleOperator)).Post("/v1/dev/fund", a.fund)
		}
	})

	return obs.Instrument(r)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	p := a.eng.Platform()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     serviceName,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"policy":   p.Policy.Version,
		"custody":  p.Self,
		"pending":  a.eng.PendingCount(),
		"dev_mode": a.dev,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// handleEngineError maps the engine error taxonomy onto HTTP statuses.
func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err), err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, r, status, engine.Code(err), msg)
}

func statusFor(err error) int {
	switch engine.Classify(err) {
	case engine.ClassAuthorization:
		return http.StatusForbidden
	case engine.ClassState:
		if engine.IsNotFound(err) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case engine.ClassInput:
		return http.StatusBadRequest
	case engine.ClassTransfer:
		if engine.Code(err) == "NativeTransferFailed" {
			return http.StatusBadGateway
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return decodeBytes(body, dst)
}

func decodeBytes(body []byte, dst any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "InvalidInput", err.Error())
}

func parseUintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

func parseAddress(raw, field string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(raw), "0x") || !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a 0x-prefixed address", field)
	}
	return common.HexToAddress(raw), nil
}

// parseAsset accepts an address, or "" / "native" for the native currency.
func parseAsset(raw string) (common.Address, error) {
	if s := strings.TrimSpace(raw); s == "" || strings.EqualFold(s, "native") {
		return common.Address{}, nil
	}
	return parseAddress(raw, "asset")
}

// parseAmount accepts a base-10 string; empty means zero when allowEmpty.
func parseAmount(raw string, allowEmpty bool) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && allowEmpty {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("amount must be a base-10 unsigned integer")
	}
	return v, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}
