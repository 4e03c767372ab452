// Package grpcclient talks to a model sidecar over gRPC. Requests and
// responses travel as google.protobuf.BytesValue so no generated stubs are
// needed on either side.
package grpcclient

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/logging"
)

// Full method names served by the sidecar.
const (
	PredictMethod  = "/leafscan.inference.v1.Model/Predict"
	DescribeMethod = "/leafscan.inference.v1.Model/Describe"
)

const defaultCallTimeout = 10 * time.Second

// DialModel connects to addr and returns a model backed by it. The caller
// owns the returned connection.
func DialModel(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (*RemoteModel, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model", "", err)
		logger.Error("failed to dial model service", append(logging.ErrorFields(wrapped), zap.String("addr", addr))...)
		return nil, nil, wrapped
	}
	return NewRemoteModel(conn, timeout, logger), conn, nil
}

// RemoteModel implements inference.Model over a gRPC connection.
type RemoteModel struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

var _ inference.Model = (*RemoteModel)(nil)

// NewRemoteModel wraps an existing connection.
func NewRemoteModel(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *RemoteModel {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteModel{conn: conn, timeout: timeout, logger: logger}
}

func (m *RemoteModel) Predict(input inference.Tensor) ([]float32, error) {
	payload, err := EncodeTensor(input)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_tensor", "", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	resp := new(wrapperspb.BytesValue)
	if err := m.conn.Invoke(ctx, PredictMethod, wrapperspb.Bytes(payload), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		m.logger.Error("model service call failed", logging.ErrorFields(wrapped)...)
		return nil, wrapped
	}

	scores, err := DecodeScores(resp.GetValue())
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_scores", "", err)
	}
	return scores, nil
}

// Describe asks the sidecar how its model expects input tensors.
func (m *RemoteModel) Describe(ctx context.Context) (InputSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp := new(wrapperspb.BytesValue)
	if err := m.conn.Invoke(ctx, DescribeMethod, &emptypb.Empty{}, resp); err != nil {
		return InputSpec{}, logging.NewOperationError("grpcclient.describe", "", err)
	}
	var spec InputSpec
	if err := json.Unmarshal(resp.GetValue(), &spec); err != nil {
		return InputSpec{}, logging.NewOperationError("grpcclient.decode_spec", "", err)
	}
	return spec, nil
}
