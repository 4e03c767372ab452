package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/logging"
)

func startModelServer(t *testing.T, model inference.Model, spec InputSpec) *RemoteModel {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterModel(srv, model, spec, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewRemoteModel(conn, time.Second, zap.NewNop())
}

func TestRemoteModelRoundTrip(t *testing.T) {
	var seen inference.Tensor
	remote := startModelServer(t, inference.ModelFunc(func(in inference.Tensor) ([]float32, error) {
		seen = in
		return []float32{0.1, 0.7, 0.2}, nil
	}), InputSpec{ImageSize: 2, Layout: inference.LayoutNHWC})

	input := inference.Tensor{Shape: []int64{1, 2, 2, 3}, Layout: inference.LayoutNHWC, Data: make([]float32, 12)}
	input.Data[5] = 0.5

	scores, err := remote.Predict(input)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.7, 0.2}, scores)
	require.Equal(t, input.Shape, seen.Shape)
	require.Equal(t, input.Data, seen.Data)
	require.Equal(t, inference.LayoutNHWC, seen.Layout)
}

func TestRemoteModelWrapsServerErrors(t *testing.T) {
	remote := startModelServer(t, inference.ModelFunc(func(inference.Tensor) ([]float32, error) {
		return nil, errors.New("session lost")
	}), InputSpec{})

	_, err := remote.Predict(inference.Tensor{Shape: []int64{1, 3}, Data: make([]float32, 3)})
	require.Error(t, err)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, "grpcclient.predict", opErr.Operation)
	require.Equal(t, codes.Internal, status.Code(opErr.Err))
}

func TestRemoteModelRejectsInvalidTensorLocally(t *testing.T) {
	remote := NewRemoteModel(nil, 0, nil)
	_, err := remote.Predict(inference.Tensor{Shape: []int64{1, 4}, Data: make([]float32, 3)})
	require.Error(t, err)
}

func TestTensorCodec(t *testing.T) {
	in := inference.Tensor{Shape: []int64{1, 3, 2, 2}, Layout: inference.LayoutNCHW, Data: []float32{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12,
	}}
	payload, err := EncodeTensor(in)
	require.NoError(t, err)
	require.Len(t, payload, 8+4*8+12*4)

	out, err := DecodeTensor(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = DecodeTensor(payload[:len(payload)-1])
	require.Error(t, err)
	_, err = DecodeTensor([]byte{0, 0, 0, 0})
	require.Error(t, err)
	_, err = DecodeTensor(nil)
	require.Error(t, err)

	unknown := append([]byte(nil), payload...)
	unknown[4] = 9
	_, err = DecodeTensor(unknown)
	require.Error(t, err)

	_, err = EncodeTensor(inference.Tensor{Shape: []int64{1, 3}, Layout: "hwc", Data: make([]float32, 3)})
	require.Error(t, err)
}

func TestTensorCodecKeepsLayoutForAmbiguousShapes(t *testing.T) {
	// 3x3 spatial with 3 channels reads the same either way round.
	for _, layout := range []inference.Layout{inference.LayoutNHWC, inference.LayoutNCHW, ""} {
		in := inference.Tensor{Shape: []int64{1, 3, 3, 3}, Layout: layout, Data: make([]float32, 27)}
		payload, err := EncodeTensor(in)
		require.NoError(t, err)
		out, err := DecodeTensor(payload)
		require.NoError(t, err)
		require.Equal(t, layout, out.Layout)
	}
}

func TestRemoteModelDescribe(t *testing.T) {
	want := InputSpec{
		ImageSize:     224,
		Layout:        inference.LayoutNCHW,
		Normalization: inference.NormalizeImageNet,
		Classes:       []string{"Healthy Leaves", "Leaf Blight"},
	}
	remote := startModelServer(t, inference.ModelFunc(func(inference.Tensor) ([]float32, error) {
		return nil, nil
	}), want)

	got, err := remote.Describe(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	base := inference.Preprocessor{Size: 256, Layout: inference.LayoutNHWC, Normalization: inference.NormalizeUnit}
	p := got.Preprocessor(base)
	require.Equal(t, 224, p.Size)
	require.Equal(t, inference.LayoutNCHW, p.Layout)
	require.Equal(t, inference.NormalizeImageNet, p.Normalization)
}

func TestRemoteModelRejectsMismatchedLayout(t *testing.T) {
	called := false
	remote := startModelServer(t, inference.ModelFunc(func(inference.Tensor) ([]float32, error) {
		called = true
		return []float32{1}, nil
	}), InputSpec{ImageSize: 2, Layout: inference.LayoutNCHW, Normalization: inference.NormalizeSymmetric})

	cases := map[string]inference.Tensor{
		"nhwc tensor": {Shape: []int64{1, 2, 2, 3}, Layout: inference.LayoutNHWC, Data: make([]float32, 12)},
		"unlabeled":   {Shape: []int64{1, 2, 2, 3}, Data: make([]float32, 12)},
		"wrong size":  {Shape: []int64{1, 3, 4, 4}, Layout: inference.LayoutNCHW, Data: make([]float32, 48)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := remote.Predict(in)
			require.Error(t, err)

			var opErr *logging.OperationError
			require.ErrorAs(t, err, &opErr)
			require.Equal(t, codes.InvalidArgument, status.Code(opErr.Err))
		})
	}
	require.False(t, called)

	ok := inference.Tensor{Shape: []int64{1, 3, 2, 2}, Layout: inference.LayoutNCHW, Data: make([]float32, 12)}
	_, err := remote.Predict(ok)
	require.NoError(t, err)
	require.True(t, called)
}

func TestScoreCodec(t *testing.T) {
	scores := []float32{0.25, 0.5, 0.125}
	out, err := DecodeScores(EncodeScores(scores))
	require.NoError(t, err)
	require.Equal(t, scores, out)

	_, err = DecodeScores([]byte{1, 2, 3})
	require.Error(t, err)
	_, err = DecodeScores(nil)
	require.Error(t, err)
}
