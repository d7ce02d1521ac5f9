package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"restaurant_ops/pkg/auth"
	"restaurant_ops/pkg/handlers"
	"restaurant_ops/pkg/metrics"
	"restaurant_ops/pkg/notify"
	"restaurant_ops/pkg/stream"
)

func newServeCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the email dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := start(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("env", "development", "environment: development or production")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.env", cmd.Flags().Lookup("env"))
	return cmd
}

// server wires the HTTP layer. The hub must be closed before the server
// shuts down since websocket connections are hijacked.
func (a *app) server(m *metrics.Metrics, hub *stream.Hub) *http.Server {
	var authMgr *auth.Manager
	if a.cfg.Auth.Enabled {
		oauth := a.oauth
		if oauth == nil {
			oauth = auth.NewGoogleOAuth(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret, a.cfg.Google.RedirectURL)
		}
		authMgr = auth.New(auth.Config{
			Enabled:    true,
			CookieName: a.cfg.Auth.CookieName,
			HashKey:    []byte(a.cfg.Auth.HashKey),
			BlockKey:   []byte(a.cfg.Auth.BlockKey),
			Secure:     a.cfg.Auth.Secure,
			AfterLogin: a.cfg.Auth.AfterLogin,
		}, oauth, a.log)
	}

	h := handlers.New(handlers.Services{
		Reservations: a.reservations,
		Inventory:    a.inventory,
		Recipes:      a.recipes,
		Stream:       hub,
		Metrics:      m,
		Auth:         authMgr,
		Health:       a.health,
		Logger:       a.log,
		Production:   a.cfg.Server.IsProduction(),
	})
	return &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      h.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
}

// startDispatcher runs the email dispatcher in the background. The returned
// func stops it and waits for the pass in flight before closing pub.
func (a *app) startDispatcher(ctx context.Context, pub notify.Publisher, m *metrics.Metrics) func() {
	ctx, cancel := context.WithCancel(ctx)
	d := a.dispatcher(pub)
	d.OnResult(func(kind notify.Kind, outcome string) { m.EmailDispatched(string(kind), outcome) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, a.cfg.Email.DispatchInterval)
	}()
	return func() {
		cancel()
		<-done
		if err := pub.Close(); err != nil {
			a.log.Warn("Failed to close email publisher", zap.Error(err))
		}
	}
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()
	a.breaker.OnStateChange(m.BreakerChanged)
	hub := stream.NewHub(a.log)
	hub.OnClientCount(m.StreamClients)
	a.reservations.Subscribe(hub)
	a.reservations.Subscribe(m)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.background() {
		pub, err := a.publisher()
		if err != nil {
			return err
		}
		stopDispatcher := a.startDispatcher(ctx, pub, m)
		defer stopDispatcher()
	} else {
		a.log.Warn("Email dispatcher disabled: google backend needs google.credentials_file to run without a signed-in user")
	}

	srv := a.server(m, hub)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting HTTP server", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	a.log.Info("Shutting down server...")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.log.Info("Server stopped")
	return nil
}
