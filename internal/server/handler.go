package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/logging"
	"github.com/dkoosis/stepci/pkg/trigger"
)

const maxPayloadBytes = 25 << 20

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.From(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, goerr.Wrap(err, "failed to read request body"), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.cfg.secret != "" {
		if err := trigger.ValidateSignature(r.Header.Get("X-Hub-Signature-256"), body, s.cfg.secret); err != nil {
			logger.Warn("invalid webhook signature")
			writeError(w, goerr.New("invalid signature"), http.StatusUnauthorized)
			return
		}
	}

	name := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	if name == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	ev, err := trigger.FromPayload(name, body, delivery)
	if errors.Is(err, trigger.ErrUnsupportedEvent) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "event " + name + " does not trigger runs"})
		return
	}
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	if s.cfg.deduper.Seen(delivery) {
		logger.Info("duplicate delivery", "delivery", delivery)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if ok, reason := trigger.Match(s.wf.On, ev); !ok {
		logger.Info("event ignored", "event", name, "branch", ev.Branch(), "reason", reason)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
		return
	}

	run := &Run{
		ID:         uuid.NewString(),
		DeliveryID: delivery,
		Event:      ev,
		Status:     StatusQueued,
		QueuedAt:   time.Now(),
	}
	s.runs.add(run)

	select {
	case s.queue <- &queuedRun{id: run.ID, event: ev}:
	default:
		s.runs.remove(run.ID)
		// Let GitHub's redelivery of this event through once there is room.
		s.cfg.deduper.Forget(delivery)
		writeError(w, goerr.New("run queue is full"), http.StatusServiceUnavailable)
		return
	}

	logger.Info("run queued", "id", run.ID, "event", name, "branch", ev.Branch())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": StatusQueued, "id": run.ID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, goerr.New("run not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.list())
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware logs every request and puts a request-scoped logger on
// the request context.
func loggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r.WithContext(logging.With(r.Context(), logger)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
