package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/creditkit/decisionflow/internal/store"
	"github.com/creditkit/decisionflow/internal/streaming"
)

// auditor writes structured events to the append-only audit log and
// publishes them to the live event hub. Audit writes never fail an
// execution; a store error is logged and dropped.
type auditor struct {
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger
}

func newAuditor(st store.Store, hub streaming.EventHub, logger *slog.Logger) *auditor {
	return &auditor{store: st, hub: hub, logger: logger}
}

func (a *auditor) emit(ctx context.Context, executionID, workflowID, nodeID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			a.logger.WarnContext(ctx, "failed to marshal audit payload",
				"event_type", eventType, "error", err)
		} else {
			raw = data
		}
	}

	event := &store.Event{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		Type:        eventType,
		Payload:     raw,
	}
	if err := a.store.AppendEvent(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "failed to append audit event",
			"event_type", eventType, "error", err)
	}

	if a.hub != nil {
		_ = a.hub.Publish(ctx, streaming.StreamEvent{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			NodeID:      nodeID,
			EventType:   eventType,
			Payload:     payload,
		})
	}
}
