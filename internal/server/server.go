// Package server receives GitHub webhooks and runs the workflow for every
// matching push or pull request, one run at a time.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
	"github.com/dkoosis/stepci/pkg/trigger"
	"github.com/dkoosis/stepci/pkg/workflow"
)

// Executor runs a workflow for an event; runner.Runner.Run satisfies it.
type Executor func(ctx context.Context, wf *workflow.Workflow, ev trigger.Event) (runner.Result, error)

type config struct {
	secret    string
	queueSize int
	history   int
	logger    *slog.Logger
	deduper   *trigger.Deduper
}

// Option configures a Server.
type Option func(*config)

// WithWebhookSecret enables X-Hub-Signature-256 verification.
func WithWebhookSecret(secret string) Option {
	return func(c *config) { c.secret = secret }
}

// WithQueueSize bounds the number of runs waiting for the worker.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithHistory bounds the number of runs kept for GET /runs/{id}.
func WithHistory(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.history = n
		}
	}
}

// WithLogger sets the request and run logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDeduper replaces the delivery id set.
func WithDeduper(d *trigger.Deduper) Option {
	return func(c *config) { c.deduper = d }
}

// Server is the webhook endpoint plus its single run worker.
type Server struct {
	cfg     config
	wf      *workflow.Workflow
	exec    Executor
	queue   chan *queuedRun
	runs    *registry
	handler http.Handler

	workerOnce sync.Once
	workerDone chan struct{}
}

type queuedRun struct {
	id    string
	event trigger.Event
}

// New builds the server. Call Serve, or Start plus Handler in tests.
func New(wf *workflow.Workflow, exec Executor, opts ...Option) *Server {
	cfg := config{
		queueSize: 16,
		history:   256,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.deduper == nil {
		cfg.deduper = trigger.NewDeduper(0)
	}

	s := &Server{
		cfg:        cfg,
		wf:         wf,
		exec:       exec,
		queue:      make(chan *queuedRun, cfg.queueSize),
		runs:       newRegistry(cfg.history),
		workerDone: make(chan struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(loggingMiddleware(cfg.logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", handleHealth)
	router.Post("/hooks/github", s.handleWebhook)
	router.Get("/runs", s.handleListRuns)
	router.Get("/runs/{id}", s.handleGetRun)
	s.handler = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start launches the run worker. It stops when ctx is done; runs still queued
// are marked cancelled.
func (s *Server) Start(ctx context.Context) {
	s.workerOnce.Do(func() {
		go s.work(ctx)
	})
}

// Wait blocks until the worker started by Start has stopped.
func (s *Server) Wait() {
	<-s.workerDone
}

func (s *Server) work(ctx context.Context) {
	defer close(s.workerDone)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case q := <-s.queue:
			if ctx.Err() != nil {
				s.cancelRun(q)
				s.drain()
				return
			}
			s.execute(ctx, q)
		}
	}
}

func (s *Server) execute(ctx context.Context, q *queuedRun) {
	logger := s.cfg.logger.With("id", q.id, "delivery", q.event.DeliveryID)
	s.runs.update(q.id, func(r *Run) {
		r.Status = StatusRunning
		r.StartedAt = time.Now()
	})
	logger.Info("run starting", "event", q.event.Name, "branch", q.event.Branch())

	res, err := s.exec(ctx, s.wf, q.event)

	s.runs.update(q.id, func(r *Run) {
		r.Status = StatusFinished
		r.FinishedAt = time.Now()
		r.Result = &res
		r.ExitCode = res.ExitCode
		if err != nil {
			r.Error = err.Error()
			var jerr *runner.JobError
			if !errors.As(err, &jerr) && r.ExitCode == 0 {
				r.ExitCode = 1
			}
		}
	})
	if err != nil {
		logger.Warn("run failed", "exit_code", res.ExitCode, "error", err)
		return
	}
	logger.Info("run finished", "status", res.Status.String())
}

func (s *Server) cancelRun(q *queuedRun) {
	s.runs.update(q.id, func(r *Run) {
		r.Status = StatusCancelled
		r.FinishedAt = time.Now()
	})
}

func (s *Server) drain() {
	for {
		select {
		case q := <-s.queue:
			s.cancelRun(q)
		default:
			return
		}
	}
}

// Serve listens on addr until ctx is done, then shuts down: new requests
// are refused, in-flight requests get shutdownTimeout to finish and the
// running job is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "listen", goerr.V("addr", addr))
	}
	return s.ServeListener(ctx, ln)
}

const shutdownTimeout = 10 * time.Second

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()
	s.Start(workerCtx)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.cfg.logger.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.cfg.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			cancelWorker()
			s.Wait()
			return goerr.Wrap(err, "serve")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	cancelWorker()
	s.Wait()
	if shutdownErr != nil {
		return goerr.Wrap(shutdownErr, "shutdown server gracefully")
	}
	s.cfg.logger.Info("server shutdown complete")
	return nil
}
