package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/latchwork/latch/internal/auth/service"
	"github.com/latchwork/latch/pkg/httpx"
)

// SettingsHandler serves the factor-enrollment endpoints. All routes
// run behind requireAuthenticated, so the user id is always in context.
type SettingsHandler struct {
	SettingsService *service.SettingsService
	Cookies         *cookieManager
}

// HandleFactors handles GET /v1/settings/factors.
func (h *SettingsHandler) HandleFactors(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.SettingsService.Factors(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"factors": statuses})
}

// HandleChangePassword handles PUT /v1/settings/factors/password.
func (h *SettingsHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.SettingsService.ChangePassword(r.Context(), userIDFromContext(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleDisablePassword handles DELETE /v1/settings/factors/password.
func (h *SettingsHandler) HandleDisablePassword(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.SettingsService.DisablePassword)
}

// HandleEnableTOTP handles POST /v1/settings/factors/totp.
func (h *SettingsHandler) HandleEnableTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	enr, err := h.SettingsService.EnableTOTP(r.Context(), userIDFromContext(r.Context()), req.DisplayName)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, enr)
}

// HandleConfirmTOTP handles POST /v1/settings/factors/totp/confirm.
func (h *SettingsHandler) HandleConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.SettingsService.ConfirmTOTP(r.Context(), userIDFromContext(r.Context()), req.Code); err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleDisableTOTP handles DELETE /v1/settings/factors/totp.
func (h *SettingsHandler) HandleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.SettingsService.DisableTOTP)
}

// HandleRegenerateRecoveryCodes handles POST /v1/settings/factors/recovery-codes.
// The plaintext codes appear in this response and nowhere else.
func (h *SettingsHandler) HandleRegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.SettingsService.RegenerateRecoveryCodes(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// HandleDisableRecoveryCodes handles DELETE /v1/settings/factors/recovery-codes.
func (h *SettingsHandler) HandleDisableRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.SettingsService.DisableRecoveryCodes)
}

// HandleWebAuthnRegisterStart handles POST /v1/settings/factors/webauthn/start.
func (h *SettingsHandler) HandleWebAuthnRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	creation, err := h.SettingsService.BeginWebAuthnRegistration(ctx, sidFromContext(ctx), userIDFromContext(ctx), req.DisplayName)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, creation)
}

// HandleWebAuthnRegisterFinish handles POST /v1/settings/factors/webauthn/finish.
func (h *SettingsHandler) HandleWebAuthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, err := h.SettingsService.FinishWebAuthnRegistration(ctx, sidFromContext(ctx), userIDFromContext(ctx), r.Body)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{
		"credential_id": cred.CredentialID,
		"display_name":  cred.DisplayName,
	})
}

// HandleDeleteWebAuthnCredential handles
// DELETE /v1/settings/factors/webauthn/{credential_id}.
func (h *SettingsHandler) HandleDeleteWebAuthnCredential(w http.ResponseWriter, r *http.Request) {
	credentialID := r.PathValue("credential_id")
	if credentialID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing credential id")
		return
	}

	err := h.SettingsService.DeleteWebAuthnCredential(r.Context(), userIDFromContext(r.Context()), credentialID)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleEnablePGP handles POST /v1/settings/factors/pgp.
func (h *SettingsHandler) HandleEnablePGP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey   string `json:"public_key"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.SettingsService.EnablePGP(r.Context(), userIDFromContext(r.Context()), req.PublicKey, req.DisplayName)
	if err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleDisablePGP handles DELETE /v1/settings/factors/pgp.
func (h *SettingsHandler) HandleDisablePGP(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.SettingsService.DisablePGP)
}

// simple is the shared shape of the no-body disable endpoints.
func (h *SettingsHandler) simple(
	w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID string) error,
) {
	if err := fn(r.Context(), userIDFromContext(r.Context())); err != nil {
		writeFactorError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
