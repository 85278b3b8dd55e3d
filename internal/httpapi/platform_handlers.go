package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"postage.org/internal/audit"
	"postage.org/internal/ledger"
	"postage.org/internal/split"
)

type treasuryRequest struct {
	Treasury string `json:"treasury"`
}

// policyRequest names a built-in policy, or gives explicit basis points.
type policyRequest struct {
	Version      string  `json:"version"`
	PrimaryBps   *uint16 `json:"primary_bps,omitempty"`
	SecondaryBps *uint16 `json:"secondary_bps,omitempty"`
	PlatformBps  *uint16 `json:"platform_bps,omitempty"`
}

type approveRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type fundRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type listTransfersResponse struct {
	Items     []ledger.Receipt `json:"items"`
	NextAfter uint64           `json:"next_after"`
	AsOf      time.Time        `json:"as_of"`
}

func (p policyRequest) policy() (split.Policy, error) {
	if p.PrimaryBps == nil && p.SecondaryBps == nil && p.PlatformBps == nil {
		policy, ok := split.Lookup(p.Version)
		if !ok {
			return split.Policy{}, errors.New("unknown policy version")
		}
		return policy, nil
	}
	if p.PrimaryBps == nil || p.SecondaryBps == nil || p.PlatformBps == nil {
		return split.Policy{}, errors.New("primary_bps, secondary_bps and platform_bps go together")
	}
	version := p.Version
	if version == "" {
		version = "custom"
	}
	return split.Policy{
		Version:      version,
		PrimaryBps:   *p.PrimaryBps,
		SecondaryBps: *p.SecondaryBps,
		PlatformBps:  *p.PlatformBps,
	}, nil
}

func (a *API) getPlatform(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.eng.Platform())
}

func (a *API) setTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	treasury, err := parseAddress(req.Treasury, "treasury")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.SetTreasury(r.Context(), caller(r), treasury); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "platform.treasury_set", map[string]any{"treasury": treasury.Hex()})
	writeJSON(w, http.StatusOK, a.eng.Platform())
}

func (a *API) setPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	policy, err := req.policy()
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.SetSplitPolicy(r.Context(), caller(r), policy); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "platform.policy_set", map[string]any{
		"version":       policy.Version,
		"primary_bps":   policy.PrimaryBps,
		"secondary_bps": policy.SecondaryBps,
		"platform_bps":  policy.PlatformBps,
	})
	writeJSON(w, http.StatusOK, a.eng.Platform())
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"), "owner")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	asset, err := parseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  owner,
		"asset":  asset,
		"amount": a.eng.Balance(asset, owner),
	})
}

func (a *API) getAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"), "owner")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	token, err := parseAddress(r.URL.Query().Get("token"), "token")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"token":   token,
		"spender": a.eng.Self(),
		"amount":  a.eng.Allowance(token, owner),
	})
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	token, err := parseAddress(req.Token, "token")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	owner := caller(r)
	if err := a.eng.Approve(r.Context(), owner, token, amount); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "allowance.set", map[string]any{"token": token.Hex(), "amount": amount.Dec()})
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"token":   token,
		"spender": a.eng.Self(),
		"amount":  amount,
	})
}

func (a *API) getCustody(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":   asset,
		"amount":  a.eng.CustodyBalance(asset),
		"pending": a.eng.PendingCount(),
	})
}

func (a *API) listTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := parseAmount(raw, false)
		if err != nil || !v.IsUint64() {
			badRequest(w, r, errors.New("after must be a sequence number"))
			return
		}
		after = v.Uint64()
	}
	items, next := a.eng.ListTransfers(limit, after)
	if items == nil {
		items = []ledger.Receipt{}
	}
	writeJSON(w, http.StatusOK, listTransfersResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.Fund(r.Context(), asset, to, amount); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "dev.funded", map[string]any{
		"asset":  asset.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  to,
		"asset":  asset,
		"amount": a.eng.Balance(asset, to),
	})
}
