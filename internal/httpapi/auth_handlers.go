package httpapi

import (
	"net/http"
	"strings"
	"time"

	"postage.org/internal/audit"
	"postage.org/internal/auth"
)

type tokenRequest struct {
	Address string   `json:"address"`
	Roles   []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken signs a token for any address. Routed in dev mode only.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	addr, err := parseAddress(req.Address, "address")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}

	token, err := auth.GenerateToken(addr, roles, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal", "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"address":    lowerHex(addr),
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Address:   lowerHex(addr),
		ExpiresAt: expiresAt,
	})
}
