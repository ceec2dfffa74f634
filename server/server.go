// Package server runs the gateway and the demo subgraph services as HTTP
// servers with signal-driven graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expensegraph/expense-gateway/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 5 * time.Second

// Run starts the federation gateway and blocks until SIGTERM/SIGINT.
func Run(opt gateway.GatewayOption) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if opt.Opentelemetry.TracingSetting.Enable {
		shutdown, err := setupTracing(ctx, opt.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	gw, err := gateway.NewGateway(opt, logger)
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("initial schema build failed: %w", err)
	}

	var graphqlHandler http.Handler = gw
	if opt.Opentelemetry.TracingSetting.Enable {
		graphqlHandler = otelhttp.NewHandler(gw, "graphql")
	}

	mux := http.NewServeMux()
	mux.Handle(gw.Endpoint(), graphqlHandler)
	mux.HandleFunc("/schema/refresh", gw.RefreshHandler())

	logger.Info("gateway listening", slog.Int("port", opt.Port), slog.String("endpoint", gw.Endpoint()))
	return serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", opt.Port), Handler: mux})
}

// RunService starts one demo subgraph service and blocks until
// SIGTERM/SIGINT.
func RunService(name string, port int, handler http.Handler) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/graphql", handler)

	logger.Info("service listening", slog.String("service", name), slog.Int("port", port))
	return serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux})
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
