//go:build integration

package containers

import (
	"context"
	"testing"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

// MinIOContainer wraps a testcontainers MinIO instance serving the S3 API.
type MinIOContainer struct {
	Container *tcminio.MinioContainer
	Endpoint  string
	Username  string
	Password  string
}

// NewMinIOContainer starts a MinIO server and returns its S3 endpoint URL.
func NewMinIOContainer(t *testing.T) *MinIOContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	if err != nil {
		t.Fatalf("failed to start minio container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get minio connection string: %v", err)
	}

	return &MinIOContainer{
		Container: container,
		Endpoint:  "http://" + addr,
		Username:  container.Username,
		Password:  container.Password,
	}
}
