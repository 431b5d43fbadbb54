// Package server exposes the exact dot-product engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/config"
	"github.com/example/go-exdot/internal/exdot"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Evaluator computes correctly rounded reductions. exdot.Setup implements it.
type Evaluator interface {
	Dot(xs ...[]float64) (float64, error)
	Sum(x []float64) (float64, error)
	DotRows(a, b []float64, rows int) ([]float64, error)
}

// errEvaluationPanic reports an evaluation that panicked. It is a server
// fault, not an input error.
var errEvaluationPanic = errors.New("evaluation panicked")

// RequestIDHeader carries the per-request identifier on every response.
const RequestIDHeader = "X-Request-ID"

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxElements    int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxElements:    1 << 20,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxElements sets the maximum number of values per request: every input
// value plus, for row-wise requests, one per result row.
func WithMaxElements(n int) Option {
	return func(o *options) { o.maxElements = n }
}

// WithWorkers sets the maximum number of concurrent evaluations. 0 disables
// the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request evaluation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	eval Evaluator
	opts options
	sem  chan struct{} // semaphore for worker pool
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves GET /health and
// POST /v1/dot, /v1/sum and /v1/dot/rows.
func NewHandler(eval Evaluator, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		eval: eval,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/v1/dot", h.handleDot)
	mux.HandleFunc("/v1/sum", h.handleSum)
	mux.HandleFunc("/v1/dot/rows", h.handleRows)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type dotRequest struct {
	A []Number `json:"a"`
	B []Number `json:"b"`
	C []Number `json:"c,omitempty"`
}

type sumRequest struct {
	X []Number `json:"x"`
}

type rowsRequest struct {
	A    []Number `json:"a"`
	B    []Number `json:"b"`
	Rows int      `json:"rows"`
}

type valueResponse struct {
	RequestID string `json:"request_id"`
	N         int    `json:"n"`
	Value     Number `json:"value"`
}

type rowsResponse struct {
	RequestID string   `json:"request_id"`
	Rows      int      `json:"rows"`
	Values    []Number `json:"values"`
}

func (h *handler) handleDot(w http.ResponseWriter, r *http.Request) {
	var req dotRequest
	id, ok := h.decode(w, r, &req)
	if !ok {
		return
	}

	xs := [][]float64{floats(req.A), floats(req.B)}
	if req.C != nil {
		xs = append(xs, floats(req.C))
	}
	if !h.checkSize(w, len(req.A)+len(req.B)+len(req.C)) {
		return
	}

	var v float64
	ok = h.evaluate(w, r, id, "dot", len(req.A), func() (err error) {
		v, err = h.eval.Dot(xs...)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, valueResponse{RequestID: id, N: len(req.A), Value: Number(v)})
	}
}

func (h *handler) handleSum(w http.ResponseWriter, r *http.Request) {
	var req sumRequest
	id, ok := h.decode(w, r, &req)
	if !ok || !h.checkSize(w, len(req.X)) {
		return
	}

	x := floats(req.X)
	var v float64
	ok = h.evaluate(w, r, id, "sum", len(x), func() (err error) {
		v, err = h.eval.Sum(x)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, valueResponse{RequestID: id, N: len(x), Value: Number(v)})
	}
}

func (h *handler) handleRows(w http.ResponseWriter, r *http.Request) {
	var req rowsRequest
	id, ok := h.decode(w, r, &req)
	if !ok || !h.checkSize(w, len(req.A)+len(req.B)) {
		return
	}
	// Every row holds at least one element of each operand.
	if req.Rows < 0 || req.Rows > min(len(req.A), len(req.B)) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("%v: %d rows for operands of %d and %d values", exdot.ErrRows, req.Rows, len(req.A), len(req.B)))
		return
	}
	if !h.checkSize(w, len(req.A)+len(req.B)+req.Rows) {
		return
	}

	a, b := floats(req.A), floats(req.B)
	var vs []float64
	ok = h.evaluate(w, r, id, "rows", len(a), func() (err error) {
		vs, err = h.eval.DotRows(a, b, req.Rows)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, rowsResponse{RequestID: id, Rows: req.Rows, Values: numbers(vs)})
	}
}

// decode checks the method, assigns a request ID and parses the JSON body.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return id, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return id, false
	}

	// Roughly 32 bytes per encoded value plus room for keys.
	body := http.MaxBytesReader(w, r.Body, int64(h.opts.maxElements)*32+4096)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return id, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return id, false
	}
	return id, true
}

func (h *handler) checkSize(w http.ResponseWriter, n int) bool {
	if n > h.opts.maxElements {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request has %d values, maximum is %d", n, h.opts.maxElements))
		return false
	}
	return true
}

// evaluate runs fn on a worker slot under the request deadline and writes
// an error response if it fails. The slot is held until fn returns, even
// when the client has already received a timeout.
func (h *handler) evaluate(w http.ResponseWriter, r *http.Request, id, op string, n int, fn func() error) bool {
	// Acquire a worker slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return false
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		if h.sem != nil {
			defer func() { <-h.sem }()
		}
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("%w: %v", errEvaluationPanic, p)
			}
		}()
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.String("request_id", id),
		slog.String("op", op),
		slog.Int("n", n),
		slog.Int64("duration_ms", durationMS),
	}

	switch {
	case err == nil:
		h.log.InfoContext(r.Context(), "evaluation complete", attrs...)
		return true
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		h.log.WarnContext(r.Context(), "evaluation timed out", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusGatewayTimeout, "evaluation timed out")
	case errors.Is(err, comm.ErrCollective), errors.Is(err, errEvaluationPanic):
		h.log.ErrorContext(r.Context(), "evaluation failed", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.log.WarnContext(r.Context(), "evaluation rejected", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusBadRequest, err.Error())
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	eval            Evaluator
	log             *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a Server. A nil eval builds one from cfg at Start.
func New(cfg config.Config, eval Evaluator) *Server {
	return &Server{
		cfg:             cfg,
		eval:            eval,
		log:             slog.Default(),
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger sets the logger for the server and its handler.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.log = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	eval := s.eval
	if eval == nil {
		setup, err := exdot.SetupFromConfig(s.cfg, s.log)
		if err != nil {
			return err
		}
		eval = setup
	}

	h := NewHandler(eval,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxElements(s.cfg.Server.MaxElements),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithLogger(s.log),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.log.Info("server listening",
		slog.String("addr", s.cfg.Server.ListenAddr),
		slog.String("backend", s.cfg.Engine.Backend),
		slog.Int("ranks", s.cfg.Reduce.Ranks),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
