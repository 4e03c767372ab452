// Command leafscan-model serves one locally loaded model over gRPC so that
// API replicas can run with models.backend=remote.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/container"
	"github.com/example/leafscan/internal/grpcclient"
	"github.com/example/leafscan/internal/inference"
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
		fmt.Fprintf(os.Stderr, "model server error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, res *container.Resources, inf *container.Inference) error {
	defer logger.Sync() //nolint:errcheck
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	if cfg.Models().Backend == container.BackendRemote {
		return errors.New("model server needs a local backend, not remote")
	}

	sc := cfg.ModelServer()
	model, spec, err := selectModel(inf, sc.Model)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", sc.Addr, err)
	}

	server := grpc.NewServer()
	grpcclient.RegisterModel(server, model, spec, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down model server")
		server.GracefulStop()
	}()

	logger.Info("model server listening",
		zap.String("addr", sc.Addr), zap.String("model", sc.Model), zap.Stringer("input", spec))
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func selectModel(inf *container.Inference, name string) (inference.Model, grpcclient.InputSpec, error) {
	switch name {
	case "disease", "":
		return inf.Models.Disease, grpcclient.SpecFor(inf.Pipeline.DiseaseInput, inf.Pipeline.Labels), nil
	case "general":
		if inf.Models.General == nil {
			return nil, grpcclient.InputSpec{}, errors.New("no general model loaded")
		}
		return inf.Models.General, grpcclient.SpecFor(inf.Pipeline.GeneralInput, nil), nil
	default:
		return nil, grpcclient.InputSpec{}, fmt.Errorf("unknown model %q", name)
	}
}
