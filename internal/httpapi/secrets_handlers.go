package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"coursemail-engine/internal/config"
	"coursemail-engine/internal/secrets"
)

type SecretsHandler struct {
	CfgVal      *atomic.Value // stores config.Config
	SetPassword func(keyringAccount, password string) error
}

type setIMAPPasswordReq struct {
	Password string `json:"password"`
}

func (h SecretsHandler) SetIMAPPassword(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r) {
		WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
		return
	}

	var req setIMAPPasswordReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}

	cfg := h.CfgVal.Load().(config.Config)
	if cfg.Account.Username == "" {
		WriteError(w, r, http.StatusBadRequest, "no_username", "account.username is not configured")
		return
	}
	key := secrets.IMAPKeyringAccount(cfg.Account.Username, cfg.Mail.Host)
	if err := h.SetPassword(key, req.Password); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keychain_error", "failed to store password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
