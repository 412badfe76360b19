package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vizor/vizor/pkg/telemetry"
)

// Click payload fields that reference rendering engine internals and are
// removed before a payload crosses the host boundary.
var unsafeClickFields = []string{"encode", "event"}

// InteractionBridge forwards rendering engine interaction events to the host.
type InteractionBridge struct {
	registry *Registry
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// NewInteractionBridge creates a bridge over the charts of deps.Registry.
func NewInteractionBridge(deps Dependencies) *InteractionBridge {
	tel := deps.telemetry()
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &InteractionBridge{
		registry: registry,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("interaction"),
	}
}

// BindClick subscribes to the chart's click events. Each event is sanitized
// and passed to callback. An unknown id is logged and ignored.
//
// Callbacks receive a context that is not canceled with ctx.
func (b *InteractionBridge) BindClick(ctx context.Context, id string, callback HostCallback) {
	handle, ok := b.registry.Get(id)
	if !ok {
		err := NewUnknownChartError(id, OpClick)
		b.tel.Metrics.RecordError(string(err.Class), err.Code)
		b.logger.WithChartID(id).Errorf("failed to retrieve chart %s", id)
		return
	}

	eventCtx := context.WithoutCancel(ctx)
	logger := b.logger.WithChartID(id)

	handle.instance.On(ClickEvent, func(params map[string]interface{}) {
		logger.Dump("click", params)

		sanitized, err := SanitizeClickParams(params)
		if err != nil {
			b.tel.Metrics.RecordClick("dropped")
			logger.WithError(err).Warn("dropping click event that cannot be serialized")
			return
		}

		if err := callback.HandleChartClick(eventCtx, id, sanitized); err != nil {
			b.tel.Metrics.RecordClick("error")
			logger.WithError(err).Error("host click callback failed")
			return
		}

		b.tel.Metrics.RecordClick("forwarded")
		_ = b.tel.Events.PublishChartClicked(id, sanitized)
	})

	logger.Debug("click events bound")
}

// SanitizeClickParams returns a copy of params without the encode metadata
// and the native event object, and verifies the result serializes to JSON.
// The input is not modified.
func SanitizeClickParams(params map[string]interface{}) (map[string]interface{}, error) {
	sanitized := make(map[string]interface{}, len(params))
	for k, v := range params {
		sanitized[k] = v
	}
	for _, field := range unsafeClickFields {
		delete(sanitized, field)
	}

	if _, err := json.Marshal(sanitized); err != nil {
		return nil, fmt.Errorf("click payload is not serializable: %w", err)
	}
	return sanitized, nil
}
