package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skuid/restgraph/decoding"
	"github.com/skuid/restgraph/queryparam"
	"github.com/skuid/restgraph/rgerrors"
	"github.com/skuid/restgraph/router"
)

// statusFor maps an rgerrors.Kind to its HTTP status, grounded on
// skuid/warden's api.Respond* status-per-error-kind functions
// (api/error.go), generalized from warden's fixed per-call status to a
// lookup over restgraph's own taxonomy (spec.md §7).
func statusFor(kind rgerrors.Kind) int {
	switch kind {
	case rgerrors.BadRequest:
		return http.StatusBadRequest
	case rgerrors.Unprocessable:
		return http.StatusUnprocessableEntity
	case rgerrors.NotFound:
		return http.StatusNotFound
	case rgerrors.MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case rgerrors.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the warden-style {"error", "message"} JSON
// envelope, extended with restgraph's own Code/Params since rgerrors.Error
// carries more than a bare message.
func respondError(w http.ResponseWriter, logger *zap.Logger, err *rgerrors.Error) {
	status := statusFor(err.Kind)
	if status == http.StatusInternalServerError {
		logger.Error("internal error", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error":   string(err.Kind),
		"code":    err.Code,
		"message": err.Message,
	}
	if err.Path != "" {
		body["path"] = err.Path
	}
	if len(err.Params) > 0 {
		body["params"] = err.Params
	}
	decoding.API.NewEncoder(w).Encode(body)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	decoding.API.NewEncoder(w).Encode(v)
}

// newHandler builds a chi.Router whose single catch-all route translates
// chi's wildcard path plus r.URL.Query() into the arguments
// router.Router.Dispatch expects — the pack's chi idiom
// (dphaener-conduit) generalized from chi's own per-pattern routing to
// restgraph's own path-segment grammar, which chi never needs to parse
// itself.
func newHandler(rt *router.Router, logger *zap.Logger) http.Handler {
	mux := chi.NewRouter()

	mux.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		path := chi.URLParam(r, "*")

		body, derr := decoding.DecodeBody(r.Body)
		if derr != nil {
			respondError(w, logger, derr)
			return
		}

		params := queryparam.Params(r.URL.Query())
		out, err := rt.Dispatch(r.Method, path, params, body)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, out)
	})

	return mux
}
