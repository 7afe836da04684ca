package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

func TestHTTPTransportRoundTripsThroughHandler(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })

	srv := httptest.NewServer(&Handler{Adapter: adapter, Graph: "g1"})
	defer srv.Close()

	transport := &HTTPTransport{}
	resp, err := transport.Do(context.Background(), srv.URL, Request{Frontier: nil})
	require.NoError(t, err)

	require.Len(t, resp.Patches, 1)
	assert.Equal(t, "w1", resp.Patches[0].WriterID)
	assert.Contains(t, resp.Frontier, "w1")
}

func TestHTTPTransportMapsServerErrorStatusToRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := &HTTPTransport{}
	_, err := transport.Do(context.Background(), srv.URL, Request{Frontier: nil})
	require.Error(t, err)
	assert.ErrorIs(t, err, warperr.ErrSyncRemote)
}

func TestHTTPTransportMapsClientErrorStatusToProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	transport := &HTTPTransport{}
	_, err := transport.Do(context.Background(), srv.URL, Request{Frontier: nil})
	require.Error(t, err)
	assert.ErrorIs(t, err, warperr.ErrSyncProtocol)
}

func TestHTTPTransportRejectsMalformedEndpoint(t *testing.T) {
	transport := &HTTPTransport{}
	_, err := transport.Do(context.Background(), "not-a-url", Request{Frontier: nil})
	assert.ErrorIs(t, err, warperr.ErrSyncRemoteURL)
}

func TestHandlerRejectsNonPost(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	srv := httptest.NewServer(&Handler{Adapter: adapter, Graph: "g1"})
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
