package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx-oracle/internal/consensus"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/report"
)

// reportPayloadLen is abi.encode(uint256, uint256).
const reportPayloadLen = 64

// NodeRuntime is an in-process node: a metric fetcher plus a signing key.
type NodeRuntime interface {
	consensus.NodeRuntime
	Address() common.Address
}

// NodeHandler exposes a local node to a remote coordinator.
type NodeHandler struct {
	id      string
	runtime NodeRuntime
	logger  *slog.Logger
}

// NewNodeHandler creates a NodeHandler for the node id.
func NewNodeHandler(id string, runtime NodeRuntime, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{
		id:      id,
		runtime: runtime,
		logger:  logger.With(slog.String("handler", "node"), slog.String("node_id", id)),
	}
}

// Info identifies the node and its signing address.
// GET /api/node/info
func (h *NodeHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"node_id": h.id,
		"signer":  h.runtime.Address().Hex(),
	})
}

// Observe fetches the metric on behalf of the coordinator.
// POST /api/node/observe
func (h *NodeHandler) Observe(w http.ResponseWriter, r *http.Request) {
	var req consensus.ObserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.JSONPath) == "" {
		writeError(w, http.StatusBadRequest, "json_path is required")
		return
	}

	value, err := h.runtime.FetchMetric(r.Context(), req.EndpointPath, req.JSONPath, req.Token)
	if err != nil {
		h.logger.WarnContext(r.Context(), "observation failed",
			slog.String("endpoint", req.EndpointPath),
			slog.String("error", err.Error()),
		)
		writeError(w, observeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, consensus.ObserveResponse{NodeID: h.id, Value: value})
}

func observeStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrPathResolution), errors.Is(err, domain.ErrTypeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Sign signs keccak256(payload) for any caller holding the node API key.
// Only 64-byte payloads that decode as a (market id, value) report are
// accepted. The value is not checked against this node's own observation.
// POST /api/node/sign
func (h *NodeHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req consensus.SignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) != reportPayloadLen {
		writeError(w, http.StatusBadRequest, "payload must be a 64-byte report")
		return
	}
	marketID, value, err := report.Decode(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := h.runtime.SignReport(r.Context(), req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "report signed",
		slog.Uint64("market_id", marketID),
		slog.Int64("value", value),
	)
	writeJSON(w, http.StatusOK, consensus.SignResponse{
		NodeID:    h.id,
		Signer:    sig.Signer,
		Signature: sig.Sig,
	})
}
