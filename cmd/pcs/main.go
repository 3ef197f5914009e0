package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/3p3r/puppeteer-command-server/internal/auth"
	"github.com/3p3r/puppeteer-command-server/internal/config"
	"github.com/3p3r/puppeteer-command-server/internal/handlers"
	"github.com/3p3r/puppeteer-command-server/internal/locator"
	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/tools"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("pcs %s\n", version)
		os.Exit(0)
	}

	st, err := config.Open()
	if err != nil {
		slog.Error("cannot load configuration", "err", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "config" {
		config.HandleConfigCommand(st)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "locate-chrome" {
		path := locator.Find()
		if path == "" {
			fmt.Fprintln(os.Stderr, "no Chrome or Chromium binary found")
			os.Exit(1)
		}
		fmt.Println(path)
		os.Exit(0)
	}

	// Owns the JWKS refresher and everything else scoped to the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(st)

	authn, err := auth.New(ctx, st, reg)
	if err != nil {
		slog.Error("auth setup failed", "err", err)
		os.Exit(1)
	}

	mcpSrv := tools.NewServer(reg, version)
	handler := buildHandler(reg, st.Runtime(), authn.Middleware, mcpSrv.Handler())

	srv := &http.Server{
		Addr:              st.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, closing tabs...")
			drainCtx, done := context.WithTimeout(context.Background(), st.Runtime().ShutdownTimeout)
			defer done()
			if err := srv.Shutdown(drainCtx); err != nil {
				slog.Warn("server drain", "err", err)
			}
			reg.Shutdown(drainCtx)
			cancel()
			slog.Info("browsers closed")
		})
	}

	setupSignalHandler(doShutdown, cancel)

	s := st.Settings()
	slog.Info("listening", "port", s.Port, "version", version)
	if s.APIKeyEnabled() {
		slog.Info("api key auth enabled", "key", config.MaskSecret(st.Secret()))
	}
	if s.JWTEnabled() {
		slog.Info("jwt auth enabled", "proxy", s.Auth.JWT.Proxy, "jwks", s.Auth.JWT.JwksURL)
	}
	if !s.APIKeyEnabled() && !s.JWTEnabled() {
		slog.Warn("no authentication methods configured, API requests will be rejected")
	}

	go runStartupHealthCheck(s.Port)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		os.Exit(1)
	}

	// ListenAndServe returns as soon as Shutdown starts; Do blocks until
	// the signal handler's pass has finished draining.
	doShutdown()
}

// buildHandler assembles the route table and the middleware stack
// around the registry.
func buildHandler(reg registry.API, rt config.Runtime, guard func(http.Handler) http.Handler, mcp http.Handler) http.Handler {
	mux := http.NewServeMux()
	h := handlers.New(reg, rt, version)
	h.RegisterRoutes(mux, guard, mcp)

	return handlers.RecoverMiddleware(
		handlers.RequestIDMiddleware(
			handlers.LoggingMiddleware(
				handlers.CorsMiddleware(mux))))
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func runStartupHealthCheck(port int) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		slog.Error("startup health check failed", "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
