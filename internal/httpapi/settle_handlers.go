package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"postage.org/internal/audit"
	"postage.org/internal/idempotency"
	"postage.org/internal/obs"
	"postage.org/internal/registry"
	"postage.org/internal/settlement"
)

const idempotencyHeader = "Idempotency-Key"

type settleRequest struct {
	// Value is the native currency attached to the call, in base units.
	Value string `json:"value"`
}

func (a *API) settleMessage(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	a.settle(w, r, "fee.settle", func(value *uint256.Int) (settlement.Receipt, error) {
		return a.eng.SettleFee(r.Context(), caller(r), registry.TopicID(topic), value)
	})
}

func (a *API) settleTopicCreation(w http.ResponseWriter, r *http.Request) {
	app, err := parseUintParam(r, "app")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	a.settle(w, r, "creation_fee.settle", func(value *uint256.Int) (settlement.Receipt, error) {
		return a.eng.SettleTopicCreation(r.Context(), caller(r), registry.AppID(app), value)
	})
}

// settle runs op at most once per Idempotency-Key. The key is claimed before
// op runs: a retry with the same key and body replays the stored response, or
// is turned away while the first request is still running; the same key with
// a different body is rejected. Failed requests release the key.
func (a *API) settle(w http.ResponseWriter, r *http.Request, event string, op func(*uint256.Int) (settlement.Receipt, error)) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	var req settleRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := decodeBytes(body, &req); err != nil {
			badRequest(w, r, err)
			return
		}
	}
	value, err := parseAmount(req.Value, true)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	var key, fingerprint string
	if clientKey != "" {
		w.Header().Set(idempotencyHeader, clientKey)
		key = idempotency.Key(lowerHex(caller(r)), clientKey)
		fingerprint = idempotency.Fingerprint(r.Method+" "+r.URL.Path, body)
		rec, replay, err := idempotency.Begin(r.Context(), a.idem, key, fingerprint)
		switch {
		case errors.Is(err, idempotency.ErrConflict):
			writeError(w, r, http.StatusConflict, "IdempotencyConflict", err.Error())
			return
		case errors.Is(err, idempotency.ErrInProgress):
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusConflict, "IdempotencyInProgress", err.Error())
			return
		case err != nil:
			obs.Logger().WithError(err).Warn("idempotency lookup failed")
			writeError(w, r, http.StatusServiceUnavailable, "Unavailable", "idempotency store unavailable")
			return
		case replay:
			w.Header().Set("Idempotent-Replay", "true")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(rec.Status)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	receipt, err := op(value)
	if err != nil {
		a.releaseKey(r, key)
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"topic":    receipt.Topic,
		"app":      receipt.App,
		"path":     string(receipt.Path),
		"asset":    receipt.Asset.Hex(),
		"consumed": receipt.Consumed.Dec(),
		"refunded": receipt.Refunded.Dec(),
		"released": len(receipt.Released),
	})

	payload, err := json.Marshal(receipt)
	if err != nil {
		a.releaseKey(r, key)
		writeError(w, r, http.StatusInternalServerError, "Internal", "encode receipt")
		return
	}
	payload = append(payload, '\n')
	if key != "" {
		rec := idempotency.Record{Fingerprint: fingerprint, Status: http.StatusOK, Body: payload}
		if err := a.idem.Put(context.WithoutCancel(r.Context()), key, rec, idempotency.DefaultTTL); err != nil {
			obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).
				Warn("idempotency store failed")
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) releaseKey(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := a.idem.Release(context.WithoutCancel(r.Context()), key); err != nil {
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).
			Warn("idempotency release failed")
	}
}
