package modelstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket, f.key = aws.ToString(in.Bucket), aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestEnsureKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	require.NoError(t, (&Store{Logger: zap.NewNop()}).Ensure(context.Background(), path, ""))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "weights", string(data))
}

func TestEnsureRequiresSourceForMissingFile(t *testing.T) {
	err := (&Store{}).Ensure(context.Background(), filepath.Join(t.TempDir(), "model.onnx"), "")
	require.ErrorIs(t, err, ErrNoSource)
}

func TestEnsureDownloadsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/disease.onnx" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "nested", "disease.onnx")
	store := &Store{HTTPClient: srv.Client()}
	require.NoError(t, store.Ensure(context.Background(), path, srv.URL+"/models/disease.onnx?sig=secret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "onnx-bytes", string(data))

	err = store.Ensure(context.Background(), filepath.Join(t.TempDir(), "x.onnx"), srv.URL+"/missing")
	require.Error(t, err)
}

func TestEnsureDownloadsFromS3(t *testing.T) {
	fake := &fakeS3{body: "s3-weights"}
	path := filepath.Join(t.TempDir(), "general.onnx")

	store := &Store{S3: fake}
	require.NoError(t, store.Ensure(context.Background(), path, "s3://models-bucket/leafscan/general.onnx"))
	require.Equal(t, "models-bucket", fake.bucket)
	require.Equal(t, "leafscan/general.onnx", fake.key)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "s3-weights", string(data))
}

func TestEnsureLeavesNothingBehindOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.onnx")

	store := &Store{S3: &fakeS3{err: errors.New("access denied")}}
	require.Error(t, store.Ensure(context.Background(), path, "s3://bucket/model.onnx"))

	store = &Store{S3: &fakeS3{body: ""}}
	require.Error(t, store.Ensure(context.Background(), path, "s3://bucket/model.onnx"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEnsureRejectsBadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	store := &Store{S3: &fakeS3{body: "x"}}

	require.Error(t, store.Ensure(context.Background(), path, "ftp://host/model.onnx"))
	require.Error(t, store.Ensure(context.Background(), path, "s3://bucket-only"))
}
