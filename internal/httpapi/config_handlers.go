package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/audit"
	"postage.org/internal/registry"
)

type feeRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type batchFeeRequest struct {
	Topics  []uint64 `json:"topics"`
	Assets  []string `json:"assets"`
	Amounts []string `json:"amounts"`
}

type escrowRequest struct {
	TimeoutSeconds int64 `json:"timeout_seconds"`
}

type feeResponse struct {
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

type escrowResponse struct {
	Topic          registry.TopicID `json:"topic"`
	Enabled        bool             `json:"enabled"`
	TimeoutSeconds int64            `json:"timeout_seconds"`
}

func (f feeRequest) parse() (common.Address, *uint256.Int, error) {
	asset, err := parseAsset(f.Asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount(f.Amount, false)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, amount, nil
}

func (a *API) setTopicFee(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	var req feeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	asset, amount, err := req.parse()
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.SetTopicMessageFee(r.Context(), caller(r), registry.TopicID(topic), asset, amount); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "topic_fee.set", map[string]any{
		"topic":  topic,
		"asset":  asset.Hex(),
		"amount": amount.Dec(),
	})
	writeJSON(w, http.StatusOK, feeResponse{Asset: asset, Amount: amount})
}

func (a *API) setTopicFees(w http.ResponseWriter, r *http.Request) {
	var req batchFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	topics := make([]registry.TopicID, len(req.Topics))
	for i, t := range req.Topics {
		topics[i] = registry.TopicID(t)
	}
	assets := make([]common.Address, len(req.Assets))
	for i, raw := range req.Assets {
		asset, err := parseAsset(raw)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		assets[i] = asset
	}
	amounts := make([]*uint256.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount(raw, false)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		amounts[i] = amount
	}
	if err := a.eng.SetTopicMessageFees(r.Context(), caller(r), topics, assets, amounts); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "topic_fees.set", map[string]any{"topics": req.Topics})
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(topics)})
}

func (a *API) getTopicFee(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	fee := a.eng.TopicMessageFee(registry.TopicID(topic))
	writeJSON(w, http.StatusOK, feeResponse{Asset: fee.Asset, Amount: orZero(fee.Amount)})
}

func (a *API) setCreationFee(w http.ResponseWriter, r *http.Request) {
	app, err := parseUintParam(r, "app")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	var req feeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	asset, amount, err := req.parse()
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.SetAppTopicCreationFee(r.Context(), caller(r), registry.AppID(app), asset, amount); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "creation_fee.set", map[string]any{
		"app":    app,
		"asset":  asset.Hex(),
		"amount": amount.Dec(),
	})
	writeJSON(w, http.StatusOK, feeResponse{Asset: asset, Amount: amount})
}

func (a *API) getCreationFee(w http.ResponseWriter, r *http.Request) {
	app, err := parseUintParam(r, "app")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	fee := a.eng.AppTopicCreationFee(registry.AppID(app))
	writeJSON(w, http.StatusOK, feeResponse{Asset: fee.Asset, Amount: orZero(fee.Amount)})
}

func (a *API) enableEscrow(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	var req escrowRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.TimeoutSeconds <= 0 {
		badRequest(w, r, errors.New("timeout_seconds must be positive"))
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if err := a.eng.EnableEscrow(r.Context(), caller(r), registry.TopicID(topic), timeout); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "escrow.enabled", map[string]any{
		"topic":           topic,
		"timeout_seconds": req.TimeoutSeconds,
	})
	a.writeEscrow(w, registry.TopicID(topic))
}

func (a *API) disableEscrow(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.eng.DisableEscrow(r.Context(), caller(r), registry.TopicID(topic)); err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "escrow.disabled", map[string]any{"topic": topic})
	a.writeEscrow(w, registry.TopicID(topic))
}

func (a *API) getEscrow(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	a.writeEscrow(w, registry.TopicID(topic))
}

func (a *API) writeEscrow(w http.ResponseWriter, topic registry.TopicID) {
	cfg := a.eng.EscrowConfig(topic)
	writeJSON(w, http.StatusOK, escrowResponse{
		Topic:          topic,
		Enabled:        cfg.Enabled,
		TimeoutSeconds: int64(cfg.Timeout / time.Second),
	})
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
