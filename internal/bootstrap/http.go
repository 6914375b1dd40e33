package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/agent-scheduler/config"
	"github.com/target/agent-scheduler/internal/adapters/oidc"
	httpx "github.com/target/agent-scheduler/internal/http"
)

// HTTPServerConfig contains configuration for the control API server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// HTTPServer wraps the control API listener lifecycle.
type HTTPServer struct {
	server *httpx.Server
}

// NewHTTPServer builds the control API server from configuration. The
// listener is not bound until Start.
func NewHTTPServer(cfg *HTTPServerConfig) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
		appCfg.Sanitize()
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Scheduler: cfg.Services.Scheduler,
		History:   cfg.Services.RunHistory,
		Bus:       cfg.Services.Bus,
		Auth:      buildAuthOptions(appCfg.Auth, logger),
		Logger:    logger,
	})

	server := httpx.NewServer(httpx.ServerOptions{
		Addr:     appCfg.HTTP.Addr,
		Handler:  router,
		MaxConns: appCfg.HTTP.MaxConns,
		Logger:   logger,
	})

	return &HTTPServer{server: server}
}

// buildAuthOptions wires the static token and, when configured, the OIDC
// verifier. OIDC discovery failures disable the verifier but keep the static
// token working.
func buildAuthOptions(cfg config.AuthConfig, logger *slog.Logger) httpx.AuthOptions {
	opts := httpx.AuthOptions{StaticToken: cfg.Token}

	if cfg.UsesOIDC() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			Issuer:   cfg.OIDCIssuer,
			Audience: cfg.OIDCAudience,
		})
		if err != nil {
			logger.Error("oidc verifier init failed, bearer tokens limited to static token",
				"issuer", cfg.OIDCIssuer, "error", err)
		} else {
			opts.Verify = func(ctx context.Context, rawToken string) error {
				_, verr := verifier.Verify(ctx, rawToken)
				return verr
			}
			logger.Info("oidc verification enabled", "issuer", cfg.OIDCIssuer)
		}
	}

	return opts
}

// Start binds and serves. It blocks until Shutdown or a listener error.
func (h *HTTPServer) Start() error {
	if h == nil || h.server == nil {
		return nil
	}
	if err := h.server.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains the listener.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}
