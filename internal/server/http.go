package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/space"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// invalidRequest is the body of every unrouted request.
const invalidRequest = "Invalid request"

// streamer is implemented by publishers that can serve pokes over a
// WebSocket (poke.Hub).
type streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, spaceID string) error
}

// Handler returns the HTTP handler for all server endpoints.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()

	r.Methods(http.MethodPost).Path("/pull").Handler(jsonHandler(s.Pull))
	r.Methods(http.MethodPost).Path("/push").Handler(jsonHandler(s.Push))
	r.Methods(http.MethodPost).Path("/getLatestSnapshot").Handler(jsonHandler(s.GetLatestSnapshot))
	r.Methods(http.MethodPost).Path("/createSnapshot").Handler(jsonHandler(s.CreateSnapshot))

	if ws, ok := s.publisher.(streamer); ok {
		r.Methods(http.MethodGet).Path("/poke/{spaceId}").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			spaceID, err := url.PathUnescape(mux.Vars(req)["spaceId"])
			if err != nil {
				writeError(w, http.StatusBadRequest, invalidRequest)
				return
			}
			if err := ws.ServeWS(w, req, spaceID); err != nil {
				s.logger.Debug("poke stream", "space", spaceID, "err", err)
			}
		})
	}

	r.Methods(http.MethodGet).Path("/metrics").Handler(
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}),
	)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)

	r.NotFoundHandler = http.HandlerFunc(handleInvalid)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleInvalid)

	// Wrapped outside the router so unrouted and preflight requests are
	// logged and carry CORS headers too.
	var h http.Handler = r
	h = withCORS(h)
	h = s.withAccessLog(h)
	return h
}

// jsonHandler adapts a Server method to a JSON-over-POST endpoint.
func jsonHandler[Req, Resp any](call func(ctx context.Context, req Req) (Resp, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Req
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "empty request body")
				return
			}
			writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
			return
		}

		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// statusFor maps a server error to its HTTP status.
func statusFor(err error) int {
	switch {
	case space.IsInvalidRequest(err):
		return http.StatusBadRequest
	case space.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": protocol.Version})
}

func handleInvalid(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusBadRequest, invalidRequest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

// withCORS allows any origin and answers preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			h.Set("Content-Type", "application/json")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAccessLog logs every request and records its duration.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		s.metrics.requestDuration.
			WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(m.Code)).
			Observe(m.Duration.Seconds())

		s.logger.Info("handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}

// routeLabel bounds the route label cardinality to the known endpoints.
func routeLabel(path string) string {
	switch path {
	case "/pull", "/push", "/getLatestSnapshot", "/createSnapshot", "/metrics", "/healthz":
		return strings.TrimPrefix(path, "/")
	}
	if strings.HasPrefix(path, "/poke/") {
		return "poke"
	}
	return "other"
}
