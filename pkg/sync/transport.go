package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

// Transport sends a Request to a remote graph and returns its Response.
// The production implementation is HTTPTransport; tests substitute a
// fake that never touches the network (spec.md §4.7: "Transport
// (semantics only)").
type Transport interface {
	Do(ctx context.Context, endpoint string, req Request) (Response, error)
}

// wireRequest/wireResponse are the JSON shapes spec.md §4.7 names
// literally: {type, frontier} and {type, frontier, patches:
// [{writerId, sha, patch-bytes}]}.
type wireRequest struct {
	Type     string            `json:"type"`
	Frontier map[string]string `json:"frontier"`
}

type wirePatch struct {
	WriterID   string `json:"writerId"`
	Sha        string `json:"sha"`
	PatchBytes []byte `json:"patch-bytes"`
}

type wireResponse struct {
	Type     string            `json:"type"`
	Frontier map[string]string `json:"frontier"`
	Patches  []wirePatch       `json:"patches"`
}

func toWireRequest(req Request) wireRequest {
	frontier := make(map[string]string, len(req.Frontier))
	for w, h := range req.Frontier {
		frontier[w] = string(h)
	}
	return wireRequest{Type: "sync-request", Frontier: frontier}
}

func fromWireResponse(wr wireResponse) Response {
	frontier := make(map[string]codec.Hash, len(wr.Frontier))
	for w, h := range wr.Frontier {
		frontier[w] = codec.Hash(h)
	}
	patches := make([]PatchEnvelope, len(wr.Patches))
	for i, p := range wr.Patches {
		patches[i] = PatchEnvelope{WriterID: p.WriterID, Sha: codec.Hash(p.Sha), PatchBytes: p.PatchBytes}
	}
	return Response{Frontier: frontier, Patches: patches}
}

func toWireResponse(resp Response) wireResponse {
	frontier := make(map[string]string, len(resp.Frontier))
	for w, h := range resp.Frontier {
		frontier[w] = string(h)
	}
	patches := make([]wirePatch, len(resp.Patches))
	for i, p := range resp.Patches {
		patches[i] = wirePatch{WriterID: p.WriterID, Sha: string(p.Sha), PatchBytes: p.PatchBytes}
	}
	return wireResponse{Type: "sync-response", Frontier: frontier, Patches: patches}
}

// HTTPTransport is the real Transport: HTTP POST with a JSON body. A nil
// Client falls back to http.DefaultClient.
type HTTPTransport struct {
	Client *http.Client
}

func (t *HTTPTransport) Do(ctx context.Context, endpoint string, req Request) (Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Response{}, fmt.Errorf("%w: %q", warperr.ErrSyncRemoteURL, endpoint)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("sync: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", warperr.ErrSyncRemoteURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", warperr.ErrSyncTimeout, err)
		}
		return Response{}, fmt.Errorf("%w: %v", warperr.ErrSyncNetwork, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", warperr.ErrSyncNetwork, err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		return Response{}, fmt.Errorf("%w: status %d", warperr.ErrSyncRemote, httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		return Response{}, fmt.Errorf("%w: status %d: %s", warperr.ErrSyncProtocol, httpResp.StatusCode, string(data))
	}

	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", warperr.ErrSyncProtocol, err)
	}
	return fromWireResponse(wr), nil
}

// Handler exposes BuildResponse as the server half of the protocol over
// HTTP, so a graph owner can wire it into a mux with one line.
type Handler struct {
	Adapter store.Adapter
	Graph   string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wr wireRequest
	if err := json.NewDecoder(r.Body).Decode(&wr); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	frontier := make(map[string]codec.Hash, len(wr.Frontier))
	for writer, hash := range wr.Frontier {
		frontier[writer] = codec.Hash(hash)
	}

	resp, err := BuildResponse(h.Adapter, h.Graph, Request{Frontier: frontier})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toWireResponse(resp))
}
