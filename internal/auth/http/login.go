package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/latchwork/latch/internal/auth/service"
	"github.com/latchwork/latch/pkg/httpx"
	"github.com/latchwork/latch/pkg/slogx"
)

// LoginHandler serves the login state machine endpoints.
type LoginHandler struct {
	LoginService *service.LoginService
	Cookies      *cookieManager
}

func (h *LoginHandler) sid(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid, err := h.Cookies.sid(w, r)
	if err != nil {
		slogx.FromContext(r.Context()).Error("minting session id", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	return sid, true
}

// HandleOptions handles GET /v1/login/options?username=...
func (h *LoginHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.LoginService.Options(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"options": options})
}

// HandleSession handles GET /v1/session.
func (h *LoginHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	state, userID, err := h.LoginService.State(r.Context(), sid)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"auth_state": state,
		"user_id":    userID,
	})
}

// HandlePassword handles POST /v1/login/password.
func (h *LoginHandler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.LoginService.PasswordLogin(r.Context(), sid, req.Username, req.Password)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleTOTP handles POST /v1/login/totp.
func (h *LoginHandler) HandleTOTP(w http.ResponseWriter, r *http.Request) {
	h.codeLogin(w, r, h.LoginService.TOTPLogin)
}

// HandleRecoveryCode handles POST /v1/login/recovery-code.
func (h *LoginHandler) HandleRecoveryCode(w http.ResponseWriter, r *http.Request) {
	h.codeLogin(w, r, h.LoginService.RecoveryCodeLogin)
}

// codeLogin is the shared shape of the code-based second factors.
func (h *LoginHandler) codeLogin(
	w http.ResponseWriter, r *http.Request,
	login func(ctx context.Context, sid, code string) (service.LoginResult, error),
) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := login(r.Context(), sid, req.Code)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleWebAuthnStart handles POST /v1/login/webauthn/start.
func (h *LoginHandler) HandleWebAuthnStart(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	assertion, err := h.LoginService.BeginWebAuthnLogin(r.Context(), sid)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assertion)
}

// HandleWebAuthnFinish handles POST /v1/login/webauthn/finish.
func (h *LoginHandler) HandleWebAuthnFinish(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	res, err := h.LoginService.FinishWebAuthnLogin(r.Context(), sid, r.Body)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePasswordlessStart handles POST /v1/login/webauthn/passwordless/start.
func (h *LoginHandler) HandlePasswordlessStart(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	assertion, err := h.LoginService.BeginPasswordlessLogin(r.Context(), sid)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assertion)
}

// HandlePasswordlessFinish handles POST /v1/login/webauthn/passwordless/finish.
func (h *LoginHandler) HandlePasswordlessFinish(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	res, err := h.LoginService.FinishPasswordlessLogin(r.Context(), sid, r.Body)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePGPChallenge handles GET /v1/login/pgp/challenge.
func (h *LoginHandler) HandlePGPChallenge(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	challenge, err := h.LoginService.PGPChallenge(r.Context(), sid)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

// HandlePGP handles POST /v1/login/pgp (first factor).
func (h *LoginHandler) HandlePGP(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	var req struct {
		Username  string `json:"username"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.LoginService.PGPLogin(r.Context(), sid, req.Username, req.Signature)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePGPSecond handles POST /v1/login/pgp/second.
func (h *LoginHandler) HandlePGPSecond(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	var req struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.LoginService.PGPSecondFactor(r.Context(), sid, req.Signature)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleLogout handles POST /v1/logout.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sid(w, r)
	if !ok {
		return
	}

	if err := h.LoginService.Logout(r.Context(), sid); err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
