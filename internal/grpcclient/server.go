package grpcclient

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/leafscan/internal/inference"
)

// ModelServer is the server side of PredictMethod and DescribeMethod.
type ModelServer interface {
	Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Describe(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

var modelServiceDesc = grpc.ServiceDesc{
	ServiceName: "leafscan.inference.v1.Model",
	HandlerType: (*ModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leafscan/inference/v1/model.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DescribeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServer).Describe(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterModel serves model on s. spec is returned by DescribeMethod and
// Predict refuses tensors that do not match it.
func RegisterModel(s *grpc.Server, model inference.Model, spec InputSpec, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(&modelServiceDesc, &modelService{model: model, spec: spec, logger: logger})
}

type modelService struct {
	model  inference.Model
	spec   InputSpec
	logger *zap.Logger
}

func (s *modelService) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	tensor, err := DecodeTensor(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode tensor: %v", err)
	}
	if err := s.spec.check(tensor); err != nil {
		s.logger.Warn("rejected tensor", zap.Error(err), zap.Int64s("shape", tensor.Shape), zap.Stringer("spec", s.spec))
		return nil, status.Errorf(codes.InvalidArgument, "tensor does not match model input (%s): %v", s.spec, err)
	}
	scores, err := s.model.Predict(tensor)
	if err != nil {
		s.logger.Error("prediction failed", zap.Error(err), zap.Int64s("shape", tensor.Shape))
		return nil, status.Errorf(codes.Internal, "predict: %v", err)
	}
	return wrapperspb.Bytes(EncodeScores(scores)), nil
}

func (s *modelService) Describe(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	payload, err := json.Marshal(s.spec)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode spec: %v", err)
	}
	return wrapperspb.Bytes(payload), nil
}
