package metricapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/jsonpath"
)

func TestFetchMetric_Success(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"public_metrics":{"followers_count": 1500000}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/2", time.Second)
	v, err := c.FetchMetric(context.Background(), "/users/by/username/predictx", "data.public_metrics.followers_count", "tok")
	require.NoError(t, err)

	assert.Equal(t, int64(1500000), v)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/2/users/by/username/predictx", gotPath)
}

func TestFetchMetric_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).FetchMetric(context.Background(), "/m", "a", "tok")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestFetchMetric_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).FetchMetric(context.Background(), "/m", "a", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestFetchMetric_ShapeErrorsPropagate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"name":"x"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)

	_, err := c.FetchMetric(context.Background(), "/m", "data.name", "tok")
	var te *jsonpath.TypeMismatchError
	assert.True(t, errors.As(err, &te))

	_, err = c.FetchMetric(context.Background(), "/m", "data.name.length", "tok")
	var pe *jsonpath.PathResolutionError
	assert.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, domain.ErrPathResolution)
}
