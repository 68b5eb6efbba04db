// Package http exposes the login state machine and factor settings over
// a JSON API. Authorization is session-cookie based: handlers gate on
// the session's auth state, never on anything the client asserts.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/latchwork/latch/internal/auth/service"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/httpx"
	"github.com/latchwork/latch/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	sessions session.Store
	cookies  *cookieManager

	LoginService    *service.LoginService
	SettingsService *service.SettingsService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	sessions session.Store,
	secureCookies bool,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		sessions:     sessions,
		cookies:      &cookieManager{secure: secureCookies},
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerRegistration()
	r.registerSettings()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware
// chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{LoginService: r.LoginService, Cookies: r.cookies}

	// Credential-bearing endpoints carry the strict budget, each with
	// its own bucket.
	strict := func() httpx.Middleware { return httpx.RateLimitByIP(httpx.StrictLimit) }
	lenient := func() httpx.Middleware { return httpx.RateLimitByIP(httpx.LenientLimit) }

	r.Mux.Handle("GET /v1/login/options",
		httpx.Chain(http.HandlerFunc(h.HandleOptions), lenient()))
	r.Mux.Handle("POST /v1/login/password",
		httpx.Chain(http.HandlerFunc(h.HandlePassword), strict()))
	r.Mux.Handle("POST /v1/login/totp",
		httpx.Chain(http.HandlerFunc(h.HandleTOTP), strict()))
	r.Mux.Handle("POST /v1/login/recovery-code",
		httpx.Chain(http.HandlerFunc(h.HandleRecoveryCode), strict()))

	r.Mux.Handle("POST /v1/login/webauthn/start",
		httpx.Chain(http.HandlerFunc(h.HandleWebAuthnStart), strict()))
	r.Mux.Handle("POST /v1/login/webauthn/finish",
		httpx.Chain(http.HandlerFunc(h.HandleWebAuthnFinish), strict()))
	r.Mux.Handle("POST /v1/login/webauthn/passwordless/start",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordlessStart), strict()))
	r.Mux.Handle("POST /v1/login/webauthn/passwordless/finish",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordlessFinish), strict()))

	r.Mux.Handle("GET /v1/login/pgp/challenge",
		httpx.Chain(http.HandlerFunc(h.HandlePGPChallenge), lenient()))
	r.Mux.Handle("POST /v1/login/pgp",
		httpx.Chain(http.HandlerFunc(h.HandlePGP), strict()))
	r.Mux.Handle("POST /v1/login/pgp/second",
		httpx.Chain(http.HandlerFunc(h.HandlePGPSecond), strict()))

	r.Mux.Handle("GET /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleSession), lenient()))
	r.Mux.Handle("POST /v1/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout), lenient()))
}

func (r *Router) registerRegistration() {
	h := &RegisterHandler{SettingsService: r.SettingsService}

	r.Mux.Handle("POST /v1/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit)))
}

func (r *Router) registerSettings() {
	h := &SettingsHandler{SettingsService: r.SettingsService, Cookies: r.cookies}

	// Everything under /v1/settings requires a fully authenticated
	// session.
	authed := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.RateLimitByIP(httpx.LenientLimit),
			r.requireAuthenticated,
		)
	}

	r.Mux.Handle("GET /v1/settings/factors", authed(h.HandleFactors))

	r.Mux.Handle("PUT /v1/settings/factors/password", authed(h.HandleChangePassword))
	r.Mux.Handle("DELETE /v1/settings/factors/password", authed(h.HandleDisablePassword))

	r.Mux.Handle("POST /v1/settings/factors/totp", authed(h.HandleEnableTOTP))
	r.Mux.Handle("POST /v1/settings/factors/totp/confirm", authed(h.HandleConfirmTOTP))
	r.Mux.Handle("DELETE /v1/settings/factors/totp", authed(h.HandleDisableTOTP))

	r.Mux.Handle("POST /v1/settings/factors/recovery-codes", authed(h.HandleRegenerateRecoveryCodes))
	r.Mux.Handle("DELETE /v1/settings/factors/recovery-codes", authed(h.HandleDisableRecoveryCodes))

	r.Mux.Handle("POST /v1/settings/factors/webauthn/start", authed(h.HandleWebAuthnRegisterStart))
	r.Mux.Handle("POST /v1/settings/factors/webauthn/finish", authed(h.HandleWebAuthnRegisterFinish))
	r.Mux.Handle("DELETE /v1/settings/factors/webauthn/{credential_id}", authed(h.HandleDeleteWebAuthnCredential))

	r.Mux.Handle("POST /v1/settings/factors/pgp", authed(h.HandleEnablePGP))
	r.Mux.Handle("DELETE /v1/settings/factors/pgp", authed(h.HandleDisablePGP))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /healthz", HealthzHandler(r.startTime, r.buildVersion, r.store, r.sessions))
}
