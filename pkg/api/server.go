// Package api assembles the gateway's HTTP surface: the REST management
// endpoints, the MCP JSON-RPC endpoints and the operational endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/toolgate/toolgate/pkg/api/v1"
	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/gateway/bridge"
	"github.com/toolgate/toolgate/pkg/gateway/policy"
	"github.com/toolgate/toolgate/pkg/gateway/router"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps carries the wired components the HTTP surface is built from.
type Deps struct {
	Registry   *gateway.Registry
	Aggregator *aggregator.Aggregator
	Groups     groups.Manager
	Bridge     *bridge.Manager
	// Policy may be nil when no policy engine is configured.
	Policy  *policy.Filter
	Metrics *telemetry.Metrics
}

// NewRouter builds the full HTTP handler.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		auth.Middleware,
	)

	rpc := router.New(deps.Aggregator, deps.Groups)
	servers := v1.ServersRouter(deps.Registry, deps.Aggregator, deps.Bridge, deps.Policy)

	r.Mount("/mcp", v1.McpRouter(deps.Aggregator, rpc.TopLevel(), servers))
	r.Mount("/groups", v1.GroupsRouter(deps.Groups, rpc.Group()))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("Gateway shut down")
	return nil
}
