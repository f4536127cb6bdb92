// Package api provides the HTTP surface of the persona bot.
//
// It exposes the Telegram webhook endpoint plus small operational endpoints
// for health checks, webhook registration and persona inspection. Webhook
// updates are acknowledged immediately and processed on a worker pool.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Phantom00716/telegram-personalities-bot/internal/bot"
	"github.com/Phantom00716/telegram-personalities-bot/internal/dispatch"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// requestTimeout bounds handler execution, not background processing.
const requestTimeout = 30 * time.Second

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// WebhookRegistrar registers the bot's webhook URL with Telegram.
type WebhookRegistrar interface {
	SetWebhook(ctx context.Context, url string) error
}

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the HTTP listen address.
	Addr string
	// BaseURL is the public base URL of this deployment, used to build the
	// webhook URL for registration.
	BaseURL string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithBaseURL sets the public base URL used for webhook registration.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = strings.TrimRight(url, "/")
	}
}

// Server wires the webhook endpoint to the message router via the
// dispatcher.
type Server struct {
	mux        *chi.Mux
	store      store.Store
	router     *bot.Router
	dispatcher *dispatch.Dispatcher
	registrar  WebhookRegistrar
	addr       string
	baseURL    string
}

// NewServer creates the API server and mounts its routes.
func NewServer(st store.Store, router *bot.Router, dispatcher *dispatch.Dispatcher, registrar WebhookRegistrar, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		mux:        chi.NewRouter(),
		store:      st,
		router:     router,
		dispatcher: dispatcher,
		registrar:  registrar,
		addr:       cfg.Addr,
		baseURL:    cfg.BaseURL,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(middleware.Timeout(requestTimeout))

	s.mux.Post("/webhook", s.webhookHandler)
	s.mux.Get("/health", s.healthHandler)
	s.mux.Get("/set-webhook", s.setWebhookHandler)
	s.mux.Get("/personas", s.personasHandler)
}

// Handler exposes the mounted routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// WebhookURL returns the full webhook URL for this deployment.
func (s *Server) WebhookURL() string {
	return s.baseURL + "/webhook"
}

// Run starts the dispatcher and serves HTTP until ctx is cancelled, then
// shuts both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Workers get a context that survives the shutdown signal, so updates
	// accepted before the signal are still processed during the drain.
	s.dispatcher.Start(context.WithoutCancel(ctx))

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	s.dispatcher.Shutdown()
	return nil
}
