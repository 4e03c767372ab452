package container

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/grpcclient"
	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/modelstore"
	"github.com/example/leafscan/internal/pipeline"
)

// Backend names accepted by models.backend.
const (
	BackendONNX      = "onnx"
	BackendRemote    = "remote"
	BackendHeuristic = "heuristic"
)

// Inference is the loaded model pair plus the pipeline settings adjusted to
// what the models were exported with.
type Inference struct {
	Models   pipeline.Models
	Pipeline pipeline.Config
}

// Resources collects release funcs for everything opened during wiring.
// Close runs them in reverse order.
type Resources struct {
	closers []func() error
}

// NewResources returns an empty registry.
func NewResources() *Resources {
	return &Resources{}
}

// Add registers fn to run on Close.
func (r *Resources) Add(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases everything registered so far.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// LoadInference builds the models for the configured backend. Any failure
// here aborts startup.
func LoadInference(ctx context.Context, cfg *config.Config, res *Resources, logger *zap.Logger) (*Inference, error) {
	pcfg, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}
	mc := cfg.Models()
	inf := &Inference{Pipeline: pcfg}

	logger.Info("loading models", zap.String("backend", mc.Backend))
	switch mc.Backend {
	case BackendHeuristic:
		model, err := inference.NewHeuristicModel(pcfg.Labels)
		if err != nil {
			return nil, err
		}
		inf.Models.Disease = model
	case BackendRemote:
		if err := loadRemote(ctx, mc, inf, res, logger); err != nil {
			return nil, err
		}
	case BackendONNX, "":
		if err := loadONNX(ctx, mc, inf, res, logger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported model backend %q", mc.Backend)
	}
	return inf, nil
}

func loadRemote(ctx context.Context, mc config.ModelsConfig, inf *Inference, res *Resources, logger *zap.Logger) error {
	disease, conn, err := grpcclient.DialModel(ctx, mc.RemoteDiseaseAddr, mc.RemoteTimeout, logger)
	if err != nil {
		return err
	}
	res.Add(conn.Close)
	inf.Models.Disease = disease

	spec, ok, err := describeRemote(ctx, disease, mc.RemoteDiseaseAddr, logger)
	if err != nil {
		return fmt.Errorf("disease model: %w", err)
	}
	if ok {
		inf.Pipeline.DiseaseInput = spec.Preprocessor(inf.Pipeline.DiseaseInput)
		if len(spec.Classes) > 0 {
			inf.Pipeline.Labels = spec.Classes
		}
	}

	if mc.RemoteGeneralAddr == "" {
		logger.Warn("no general model configured, plant check uses color only")
		return nil
	}
	general, conn, err := grpcclient.DialModel(ctx, mc.RemoteGeneralAddr, mc.RemoteTimeout, logger)
	if err != nil {
		return err
	}
	res.Add(conn.Close)
	inf.Models.General = general

	spec, ok, err = describeRemote(ctx, general, mc.RemoteGeneralAddr, logger)
	if err != nil {
		return fmt.Errorf("general model: %w", err)
	}
	if ok {
		inf.Pipeline.GeneralInput = spec.Preprocessor(inf.Pipeline.GeneralInput)
	}
	return nil
}

// describeRemote fetches the input spec of a sidecar. Sidecars without the
// Describe method report ok=false and the configured preprocessing stays.
func describeRemote(ctx context.Context, model *grpcclient.RemoteModel, addr string, logger *zap.Logger) (grpcclient.InputSpec, bool, error) {
	spec, err := model.Describe(ctx)
	if err != nil {
		if status.Code(errors.Unwrap(err)) == codes.Unimplemented {
			logger.Warn("model service does not describe its input, using configured preprocessing", zap.String("addr", addr))
			return grpcclient.InputSpec{}, false, nil
		}
		return grpcclient.InputSpec{}, false, err
	}
	logger.Info("remote model input", zap.String("addr", addr), zap.Stringer("spec", spec))
	return spec, true, nil
}

func loadONNX(ctx context.Context, mc config.ModelsConfig, inf *Inference, res *Resources, logger *zap.Logger) error {
	store := &modelstore.Store{Region: mc.Region, Logger: logger}

	if err := store.Ensure(ctx, mc.Disease.Path, mc.Disease.Source); err != nil {
		return fmt.Errorf("disease model: %w", err)
	}
	if err := inference.InitRuntime(mc.RuntimeLibrary); err != nil {
		return err
	}
	res.Add(inference.DestroyRuntime)

	disease, md, err := openONNX(mc.Disease, res)
	if err != nil {
		return fmt.Errorf("disease model: %w", err)
	}
	inf.Models.Disease = disease
	inf.Pipeline.DiseaseInput = md.Preprocessor(inf.Pipeline.DiseaseInput)
	if len(md.Classes) > 0 {
		inf.Pipeline.Labels = md.Classes
	}

	if mc.General.Path == "" {
		logger.Warn("no general model configured, plant check uses color only")
		return nil
	}
	if err := store.Ensure(ctx, mc.General.Path, mc.General.Source); err != nil {
		if errors.Is(err, modelstore.ErrNoSource) {
			logger.Warn("general model not available, plant check uses color only", zap.String("path", mc.General.Path))
			return nil
		}
		return fmt.Errorf("general model: %w", err)
	}
	general, md, err := openONNX(mc.General, res)
	if err != nil {
		return fmt.Errorf("general model: %w", err)
	}
	inf.Models.General = general
	inf.Pipeline.GeneralInput = md.Preprocessor(inf.Pipeline.GeneralInput)
	return nil
}

func openONNX(file config.ModelFile, res *Resources) (*inference.ONNXModel, inference.Metadata, error) {
	md, err := inference.LoadMetadata(file.Metadata)
	if err != nil {
		return nil, inference.Metadata{}, err
	}
	model, err := inference.NewONNXModel(file.Path, md)
	if err != nil {
		return nil, inference.Metadata{}, err
	}
	res.Add(model.Close)
	return model, md, nil
}
