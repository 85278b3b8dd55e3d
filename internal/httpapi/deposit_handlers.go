package httpapi

import (
	"errors"
	"net/http"

	"postage.org/internal/audit"
	"postage.org/internal/escrow"
	"postage.org/internal/registry"
)

type batchRefundRequest struct {
	IDs []uint64 `json:"ids"`
}

func depositID(r *http.Request) (escrow.DepositID, error) {
	id, err := parseUintParam(r, "id")
	return escrow.DepositID(id), err
}

func (a *API) getDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := depositID(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	d, err := a.eng.Deposit(id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) getDepositStatus(w http.ResponseWriter, r *http.Request) {
	id, err := depositID(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	status, err := a.eng.DepositStatus(id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (a *API) getRefundable(w http.ResponseWriter, r *http.Request) {
	id, err := depositID(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "refundable": a.eng.CanClaimRefund(id)})
}

func (a *API) pendingDeposits(w http.ResponseWriter, r *http.Request) {
	topic, err := parseUintParam(r, "topic")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	ids := a.eng.PendingDeposits(registry.TopicID(topic))
	if ids == nil {
		ids = []escrow.DepositID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "deposits": ids})
}

func (a *API) claimRefund(w http.ResponseWriter, r *http.Request) {
	id, err := depositID(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	d, err := a.eng.ClaimRefund(r.Context(), caller(r), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "deposit.refund_claimed", map[string]any{
		"deposit": uint64(d.ID),
		"amount":  d.Amount.Dec(),
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) batchRefund(w http.ResponseWriter, r *http.Request) {
	var req batchRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		badRequest(w, r, errors.New("ids are required"))
		return
	}
	ids := make([]escrow.DepositID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = escrow.DepositID(id)
	}
	refunded, err := a.eng.BatchClaimRefunds(r.Context(), caller(r), ids)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "deposit.refunds_claimed", map[string]any{"deposits": req.IDs})
	writeJSON(w, http.StatusOK, map[string]any{"refunded": refunded})
}
