package http

import (
	"errors"
	"net/http"

	"github.com/latchwork/latch/internal/auth/factor"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/pkg/httpx"
	"github.com/latchwork/latch/pkg/slogx"
)

// writeFactorError maps the factor error taxonomy onto HTTP statuses.
// Unauthorized keeps its single generic body: the whole point of that
// error is that callers cannot tell which precondition failed.
func writeFactorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, factor.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, factor.ErrBadRequest):
		httpx.WriteError(w, http.StatusBadRequest, "bad request")
	case errors.Is(err, factor.ErrNotEnabled):
		httpx.WriteError(w, http.StatusBadRequest, "factor not enabled")
	case errors.Is(err, factor.ErrAlreadyEnabled):
		httpx.WriteError(w, http.StatusBadRequest, "factor already enabled")
	case errors.Is(err, factor.ErrCannotDisableOnlyPrimary):
		httpx.WriteError(w, http.StatusConflict, "cannot disable the only primary factor")
	case errors.Is(err, store.ErrAlreadyExists):
		httpx.WriteError(w, http.StatusBadRequest, "username or email already taken")
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
