package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"scam-call-guard/internal/app"
	"scam-call-guard/internal/observability/metrics"
	"scam-call-guard/internal/schema"
	"scam-call-guard/internal/service/call"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

// CallController is the call manager as seen by the control surface.
type CallController interface {
	StartCall(req call.StartRequest) string
	EndCall(req call.EndRequest) string
	Status() call.Snapshot
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewRouter constructs the HTTP control surface for the service.
func NewRouter(application *app.Application, calls CallController, validator *schema.Validator) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	}))
	r.Use(recordMetrics(metrics.DefaultMetrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Call control
	r.Route("/call", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
			var req call.StartRequest
			if !decode(w, r, validator, schema.CallStart, &req) {
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: calls.StartCall(req)})
		})
		r.Post("/end", func(w http.ResponseWriter, r *http.Request) {
			var req call.EndRequest
			if !decode(w, r, validator, schema.CallEnd, &req) {
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: calls.EndCall(req)})
		})
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, calls.Status())
		})
	})

	return r
}

// decode validates the body against the named schema and unmarshals it into v.
// On failure it writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, validator *schema.Validator, name string, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error: " + err.Error()})
		return false
	}
	if err := validator.Validate(name, body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("schema", name).Msg("Rejected control request")
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error: " + err.Error()})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func recordMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordControlRequest(route, status)
		})
	}
}
