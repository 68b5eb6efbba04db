package http

import (
	"context"
	"net/http"

	"github.com/latchwork/latch/internal/auth/domain"
	"github.com/latchwork/latch/pkg/cryptox"
	"github.com/latchwork/latch/pkg/httpx"
	"github.com/latchwork/latch/pkg/slogx"
)

// sessionCookie carries only an opaque random id; all session state
// lives server side.
const sessionCookie = "latch_session"

type ctxKey int

const (
	ctxKeySID ctxKey = iota
	ctxKeyUserID
)

type cookieManager struct {
	secure bool
}

// sid returns the request's session id, minting one (and setting the
// cookie) when the client arrived without it.
func (c *cookieManager) sid(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	sid, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sid, nil
}

// requireAuthenticated gates settings endpoints on a fully
// authenticated session and injects the user id into the context.
func (rt *Router) requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sid, err := rt.cookies.sid(w, r)
		if err != nil {
			slogx.FromContext(ctx).Error("minting session id", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}

		state, userID, err := rt.LoginService.State(ctx, sid)
		if err != nil {
			slogx.FromContext(ctx).Error("reading session state", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if state != domain.StateAuthenticated || userID == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx = context.WithValue(ctx, ctxKeySID, sid)
		ctx = context.WithValue(ctx, ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sidFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(ctxKeySID).(string)
	return sid
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}
