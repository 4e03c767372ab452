package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/leafscan/internal/auth"
	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/container"
	"github.com/example/leafscan/internal/handlers"
	"github.com/example/leafscan/internal/usecase"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	c, err := container.BuildContainer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := c.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, res *container.Resources, uc *usecase.DiagnosisUseCase, cat *catalog.Catalog) error {
	defer logger.Sync() //nolint:errcheck
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	srv := cfg.Server()
	gin.SetMode(srv.GinMode)

	server := &http.Server{
		Addr:              srv.Addr,
		Handler:           newRouter(cfg, uc, cat),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("leafscan API listening", zap.String("addr", srv.Addr))
	if err := serveHTTPServer(server, srv.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

func newRouter(cfg *config.Config, uc handlers.DiagnosisService, cat handlers.Catalog) *gin.Engine {
	maxUpload := cfg.Server().MaxUploadBytes

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = maxUpload
	handlers.RegisterRoutesWithLimit(r, uc, cat, auth.Middleware(cfg.Auth()), maxUpload)
	return r
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
