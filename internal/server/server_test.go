package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marmos91/elfinderd/pkg/connector"
	"github.com/marmos91/elfinderd/pkg/volume"
	volumeFs "github.com/marmos91/elfinderd/pkg/volume/fs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	vol, err := volumeFs.New("l1", t.TempDir())
	require.NoError(t, err)

	conn, err := connector.New(connector.Options{UploadMaxSize: "128M"},
		[]volume.Driver{vol}, zap.NewNop(), nil)
	require.NoError(t, err)

	return New("localhost:0", time.Second, conn, zap.NewNop())
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("Healthz", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("ConnectorAnswersProtocolRequests", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/connector?cmd=open&target=&init=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "2.0", body["api"])
		assert.NotContains(t, body, "error")
	})

	t.Run("ConnectorRejectsMissingCommand", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/connector")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "No command specified", body["error"])
	})

	t.Run("UnknownRouteIs404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("MetricsAbsentWhenRegistryDisabled", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
