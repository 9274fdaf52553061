package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kailas-cloud/vecbench/internal/objstore"
)

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestNew_DoesNotDial(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.client == nil {
		t.Fatal("client not set")
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, false},
		{"plain", errors.New("reset"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := errors.Is(mapErr("b", "k", tc.err), objstore.ErrNotFound)
			if got != tc.notFound {
				t.Errorf("not found = %v, want %v", got, tc.notFound)
			}
		})
	}
}
