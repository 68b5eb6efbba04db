package http

import (
	"net/http"
	"time"

	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/httpx"
)

// HealthzHandler reports liveness plus the reachability of both backing
// stores.
func HealthzHandler(startTime time.Time, version string, st store.Store, sessions session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		status := "ok"
		code := http.StatusOK
		checks := map[string]string{"store": "ok", "sessions": "ok"}

		if err := st.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if err := sessions.Ping(ctx); err != nil {
			checks["sessions"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, map[string]any{
			"status":  status,
			"uptime":  time.Since(startTime).String(),
			"version": version,
			"checks":  checks,
		})
	}
}
