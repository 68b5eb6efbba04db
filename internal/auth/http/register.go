package http

import (
	"encoding/json"
	"net/http"

	"github.com/latchwork/latch/internal/auth/service"
	"github.com/latchwork/latch/pkg/httpx"
)

// RegisterHandler serves account creation.
type RegisterHandler struct {
	SettingsService *service.SettingsService
}

// HandleRegister handles POST /v1/register.
func (h *RegisterHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.SettingsService.Register(r.Context(), service.RegisterParams{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		writeFactorError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      user.ID,
	})
}
