package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.org", normaliseEndpoint("https://s3.example.org", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio.internal:9000", normaliseEndpoint("minio.internal:9000", true))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)

	c, err := New(context.Background(), ClientConfig{
		Bucket: "archive", Region: "us-east-1", Endpoint: "localhost:9000",
		AccessKey: "k", SecretKey: "s", ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", c.Bucket())
	assert.NotNil(t, NewWriter(c))
}
