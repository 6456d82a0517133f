// Package main implements the Tethys API server: HTTP endpoints for asking
// questions about ARGO floats, plus an optional NATS request/reply responder.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tethys-ocean/tethys/engine/bootstrap"
	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/engine/rag"
	"github.com/tethys-ocean/tethys/pkg/config"
	"github.com/tethys-ocean/tethys/pkg/metrics"
	"github.com/tethys-ocean/tethys/pkg/mid"
	"github.com/tethys-ocean/tethys/pkg/natsutil"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("TETHYS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	if stack.NATS != nil {
		sub, err := serveNATS(stack.NATS, cfg.NATS, stack.Service, logger)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		logger.Info("nats responder listening", "subject", cfg.NATS.AskSubject, "queue", cfg.NATS.Queue)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHandler(stack.Service, stack.Profiles, stack.Metrics, cfg.Server, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Compose.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// asker is the slice of *rag.Service the server needs.
type asker interface {
	Ask(ctx context.Context, question string) (*rag.Response, error)
	Plan(question string) (domain.Plan, error)
}

// pinger reports store health.
type pinger interface {
	Ping(ctx context.Context) error
}

func newHandler(svc asker, store pinger, reg *metrics.Registry, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(store))
	mux.HandleFunc("POST /api/ask", handleAsk(svc, logger))
	mux.HandleFunc("POST /api/plan", handlePlan(svc))
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel(cfg.ServiceName),
		mid.Metrics(reg),
		mid.RateLimit(cfg.RateLimit, cfg.RateBurst),
	)
}

// --- Handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
	State domain.State     `json:"state,omitempty"`
}

func handleHealth(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if store != nil {
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// AskRequest is the JSON body for POST /api/ask and /api/plan, and the
// payload of NATS ask requests.
type AskRequest struct {
	Question string `json:"question"`
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: domain.KindValidation})
		return "", false
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "question is required", Kind: domain.KindValidation})
		return "", false
	}
	return req.Question, true
}

func handleAsk(svc asker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		resp, err := svc.Ask(r.Context(), question)
		if err != nil {
			status, body := errorResponse(err)
			if status >= http.StatusInternalServerError {
				logger.Error("ask failed", "request_id", mid.RequestIDFrom(r.Context()), "err", err)
			}
			writeJSON(w, status, body)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handlePlan(svc asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		plan, err := svc.Plan(question)
		if err != nil {
			status, body := errorResponse(err)
			writeJSON(w, status, body)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

// errorResponse maps a pipeline error to an HTTP status and body.
func errorResponse(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error(), Kind: domain.KindOf(err)}
	var fatal *domain.PipelineFatalError
	if errors.As(err, &fatal) {
		body.State = fatal.State
	}
	switch body.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest, body
	case domain.KindCanceled:
		return http.StatusRequestTimeout, body
	case domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable, body
	}
	body.Error = "internal server error"
	return http.StatusInternalServerError, body
}

// --- NATS ---

// kindError exposes the pipeline error kind to NATS requesters.
type kindError struct{ err error }

func (e kindError) Error() string { return e.err.Error() }
func (e kindError) Unwrap() error { return e.err }
func (e kindError) Kind() string  { return string(domain.KindOf(e.err)) }

func serveNATS(nc *nats.Conn, cfg config.NATSConfig, svc asker, logger *slog.Logger) (*nats.Subscription, error) {
	sub, err := natsutil.Handle[AskRequest, *rag.Response](nc, cfg.AskSubject, cfg.Queue, cfg.Timeout, logger,
		func(ctx context.Context, req AskRequest) (*rag.Response, error) {
			resp, err := svc.Ask(ctx, req.Question)
			if err != nil {
				return nil, kindError{err}
			}
			return resp, nil
		})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", cfg.AskSubject, err)
	}
	return sub, nil
}
