package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// ObserveRequest is the body of POST /api/node/observe.
type ObserveRequest struct {
	EndpointPath string `json:"endpoint_path"`
	JSONPath     string `json:"json_path"`
	Token        string `json:"token"`
}

// ObserveResponse is returned by a peer after fetching the metric.
type ObserveResponse struct {
	NodeID string `json:"node_id"`
	Value  int64  `json:"value"`
}

// SignRequest is the body of POST /api/node/sign.
type SignRequest struct {
	Payload hexutil.Bytes `json:"payload"`
}

// SignResponse carries a peer's signature over keccak256(payload).
type SignResponse struct {
	NodeID    string         `json:"node_id"`
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
}

// RemoteNode forwards observations and signing to a peer running in node
// mode.
type RemoteNode struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ NodeRuntime = (*RemoteNode)(nil)

// NewRemoteNode creates a client for the peer at baseURL. apiKey is sent as a
// bearer token when set.
func NewRemoteNode(baseURL, apiKey string, timeout time.Duration) *RemoteNode {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteNode{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchMetric implements NodeRuntime.
func (n *RemoteNode) FetchMetric(ctx context.Context, endpointPath, jsonPath, token string) (int64, error) {
	var resp ObserveResponse
	req := ObserveRequest{EndpointPath: endpointPath, JSONPath: jsonPath, Token: token}
	if err := n.post(ctx, "/api/node/observe", req, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// SignReport implements NodeRuntime.
func (n *RemoteNode) SignReport(ctx context.Context, payload []byte) (domain.Signature, error) {
	var resp SignResponse
	if err := n.post(ctx, "/api/node/sign", SignRequest{Payload: payload}, &resp); err != nil {
		return domain.Signature{}, err
	}
	if len(resp.Signature) != 65 {
		return domain.Signature{}, fmt.Errorf("consensus: remote %s: %w: signature length %d",
			n.baseURL, domain.ErrSigningFailed, len(resp.Signature))
	}
	return domain.Signature{Signer: resp.Signer, Sig: resp.Signature}, nil
}

func (n *RemoteNode) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("consensus: remote %s: marshal: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("consensus: remote %s: create request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("consensus: remote %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("consensus: remote %s: %w (status %d)", path, domain.ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("consensus: remote %s: unexpected status %d: %s",
			path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("consensus: remote %s: decode: %w", path, err)
	}
	return nil
}
