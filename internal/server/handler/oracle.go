package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/pipeline"
)

// CycleTrigger is the scheduler surface the API needs.
type CycleTrigger interface {
	Trigger(ctx context.Context) (domain.CycleResult, error)
	Running() bool
	LastResult() (domain.CycleResult, bool)
	Spec() string
	Next(t time.Time) time.Time
}

// OracleDeps groups the optional collaborators of OracleHandler. Reader and
// Scheduler are required.
type OracleDeps struct {
	Scheduler CycleTrigger
	Reader    pipeline.MarketReader
	History   domain.ResolutionStore
	Outcomes  domain.OutcomeCache
	Audit     domain.AuditStore
	ChainName string
}

// OracleHandler serves status, manual triggers and market/cycle lookups.
type OracleHandler struct {
	deps   OracleDeps
	now    func() time.Time
	logger *slog.Logger

	// background runs triggered cycles; replaced in tests.
	background func(func())
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(deps OracleDeps, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		deps:       deps,
		now:        time.Now,
		logger:     logger.With(slog.String("handler", "oracle")),
		background: func(f func()) { go f() },
	}
}

type statusResponse struct {
	Mode      string               `json:"mode"`
	ChainName string               `json:"chain_name"`
	Schedule  string               `json:"schedule"`
	NextRun   time.Time            `json:"next_run"`
	Running   bool                 `json:"running"`
	LastCycle *pipeline.CycleEvent `json:"last_cycle,omitempty"`
}

// GetStatus reports the schedule and the most recent cycle.
// GET /api/status
func (h *OracleHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Status is the snapshot sent to WebSocket clients on connect.
func (h *OracleHandler) Status() any {
	return h.status()
}

func (h *OracleHandler) status() statusResponse {
	s := h.deps.Scheduler
	resp := statusResponse{
		Mode:      "oracle",
		ChainName: h.deps.ChainName,
		Schedule:  s.Spec(),
		NextRun:   s.Next(h.now()).UTC(),
		Running:   s.Running(),
	}
	if last, ok := s.LastResult(); ok {
		ev := pipeline.NewCycleEvent(last)
		resp.LastCycle = &ev
	}
	return resp
}

// TriggerCycle starts a cycle now. By default the cycle runs in the
// background and 202 is returned; with ?wait=true the request blocks and
// returns the cycle summary.
// POST /api/cycles/trigger
func (h *OracleHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler.Running() {
		writeError(w, http.StatusConflict, domain.ErrCycleInProgress.Error())
		return
	}
	h.audit(r.Context(), pipeline.AuditCycleTriggered, map[string]any{
		"remote_addr": r.RemoteAddr,
		"wait":        r.URL.Query().Get("wait") == "true",
	})

	if r.URL.Query().Get("wait") == "true" {
		result, err := h.deps.Scheduler.Trigger(r.Context())
		if err != nil {
			writeError(w, triggerStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pipeline.NewCycleEvent(result))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.background(func() {
		if _, err := h.deps.Scheduler.Trigger(ctx); err != nil {
			h.logger.WarnContext(ctx, "triggered cycle failed", slog.String("error", err.Error()))
		}
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": h.now().UTC().Format(time.RFC3339),
	})
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrCycleInProgress), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type marketResponse struct {
	ID              uint64                `json:"id"`
	Description     string                `json:"description"`
	EndpointPath    string                `json:"endpoint_path"`
	JSONPath        string                `json:"json_path"`
	TargetValue     string                `json:"target_value"`
	Operator        string                `json:"operator"`
	BettingDeadline int64                 `json:"betting_deadline"`
	ResolutionDate  int64                 `json:"resolution_date"`
	CreatedAt       int64                 `json:"created_at"`
	Status          string                `json:"status"`
	Creator         string                `json:"creator"`
	Eligible        bool                  `json:"eligible"`
	LastOutcome     *pipeline.MarketEvent `json:"last_outcome,omitempty"`
}

// GetMarket reads a market descriptor live from the registry.
// GET /api/markets/{id}
func (h *OracleHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.deps.Reader.MarketCount(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if id >= count {
		writeError(w, http.StatusNotFound, fmt.Sprintf("market #%d does not exist (count %d)", id, count))
		return
	}

	m, err := h.deps.Reader.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := marketResponse{
		ID:              m.ID,
		Description:     m.Description,
		EndpointPath:    m.EndpointPath,
		JSONPath:        m.JSONPath,
		TargetValue:     m.TargetValue.String(),
		Operator:        m.Operator.String(),
		BettingDeadline: m.BettingDeadline,
		ResolutionDate:  m.ResolutionDate,
		CreatedAt:       m.CreatedAt,
		Status:          m.Status.String(),
		Creator:         m.Creator.Hex(),
		Eligible:        m.Eligible(h.now()),
	}
	if h.deps.Outcomes != nil {
		if o, err := h.deps.Outcomes.GetLatest(r.Context(), id); err == nil {
			ev := pipeline.NewMarketEvent("", o)
			resp.LastOutcome = &ev
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "outcome cache read failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMarketOutcomes returns a market's resolution history.
// GET /api/markets/{id}/outcomes
func (h *OracleHandler) ListMarketOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution history is not configured")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcomes, err := h.deps.History.ListOutcomes(r.Context(), id, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events := make([]pipeline.MarketEvent, 0, len(outcomes))
	for _, o := range outcomes {
		events = append(events, pipeline.NewMarketEvent("", o))
	}
	writeJSON(w, http.StatusOK, events)
}

// ListCycles returns recent cycle summaries.
// GET /api/cycles
func (h *OracleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution history is not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cycles, err := h.deps.History.ListCycles(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events := make([]pipeline.CycleEvent, 0, len(cycles))
	for _, c := range cycles {
		events = append(events, pipeline.NewCycleEvent(c))
	}
	writeJSON(w, http.StatusOK, events)
}

type auditResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit log entries.
// GET /api/audit
func (h *OracleHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log is not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.deps.Audit.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OracleHandler) audit(ctx context.Context, event string, detail map[string]any) {
	if h.deps.Audit == nil {
		return
	}
	if err := h.deps.Audit.Log(ctx, event, detail); err != nil {
		h.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
