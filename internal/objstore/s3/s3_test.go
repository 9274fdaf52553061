package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kailas-cloud/vecbench/internal/objstore"
)

// fakeClient serves single-part transfers only.
type fakeClient struct {
	objects map[string][]byte
	puts    []string
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestUploadThenDownload(t *testing.T) {
	fc := &fakeClient{objects: map[string][]byte{}}
	s := NewFromClient(fc)
	ctx := context.Background()

	if err := s.Upload(ctx, "bench", "run/metrics.parquet", bytes.NewReader([]byte("rows"))); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(fc.puts) != 1 || fc.puts[0] != "bench/run/metrics.parquet" {
		t.Fatalf("puts = %v", fc.puts)
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.Download(ctx, "bench", "run/metrics.parquet", buf)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != 4 || string(buf.Bytes()) != "rows" {
		t.Errorf("downloaded %d bytes: %q", n, buf.Bytes())
	}
}

func TestDownload_MissingKey(t *testing.T) {
	s := NewFromClient(&fakeClient{objects: map[string][]byte{}})
	_, err := s.Download(context.Background(), "bench", "nope", manager.NewWriteAtBuffer(nil))
	if !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
