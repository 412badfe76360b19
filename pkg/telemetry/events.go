package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Vizor chart bridge.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ChartID is the associated chart ID, if applicable.
	ChartID string `json:"chart_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeChartCreated   = "chart.created"
	EventTypeChartReady     = "chart.ready"
	EventTypeChartFailed    = "chart.failed"
	EventTypeChartDisposed  = "chart.disposed"
	EventTypeChartClicked   = "chart.clicked"
	EventTypeFetchDenied    = "fetch.denied"
	EventTypeMapRegistered  = "map.registered"
	EventTypePolicyReloaded = "policy.reloaded"
	EventTypeError          = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishChartCreated publishes a chart created event.
func (ep *EventPublisher) PublishChartCreated(chartID, theme string) error {
	return ep.Publish(Event{
		Type:    EventTypeChartCreated,
		Source:  "controller",
		ChartID: chartID,
		Message: fmt.Sprintf("Chart %s created", chartID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"theme": theme,
		},
	})
}

// PublishChartReady publishes an event when options were applied to a chart.
func (ep *EventPublisher) PublishChartReady(chartID, operation string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeChartReady,
		Source:  "controller",
		ChartID: chartID,
		Message: fmt.Sprintf("Chart %s ready after %s", chartID, operation),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishChartFailed publishes an event when a chart operation was aborted.
func (ep *EventPublisher) PublishChartFailed(chartID, operation, code, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeChartFailed,
		Source:  "controller",
		ChartID: chartID,
		Message: fmt.Sprintf("Chart %s %s failed: %s", chartID, operation, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"operation": operation,
			"code":      code,
			"reason":    reason,
		},
	})
}

// PublishChartDisposed publishes a chart disposed event.
func (ep *EventPublisher) PublishChartDisposed(chartID string, evicted []string) error {
	return ep.Publish(Event{
		Type:    EventTypeChartDisposed,
		Source:  "controller",
		ChartID: chartID,
		Message: fmt.Sprintf("Chart %s disposed (%d data sources evicted)", chartID, len(evicted)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"evicted": evicted,
		},
	})
}

// PublishChartClicked publishes a sanitized click payload.
func (ep *EventPublisher) PublishChartClicked(chartID string, params map[string]interface{}) error {
	return ep.Publish(Event{
		Type:    EventTypeChartClicked,
		Source:  "interaction",
		ChartID: chartID,
		Message: fmt.Sprintf("Chart %s clicked", chartID),
		Level:   EventLevelInfo,
		Data:    params,
	})
}

// PublishFetchDenied publishes an event when the fetch policy rejected a data source.
func (ep *EventPublisher) PublishFetchDenied(chartID, url string, reasons []string) error {
	return ep.Publish(Event{
		Type:    EventTypeFetchDenied,
		Source:  "fetch_policy",
		ChartID: chartID,
		Message: fmt.Sprintf("Fetch of %s denied for chart %s", url, chartID),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"url":     url,
			"reasons": reasons,
		},
	})
}

// PublishMapRegistered publishes an event when a map was registered with the rendering engine.
func (ep *EventPublisher) PublishMapRegistered(name, mapType string) error {
	return ep.Publish(Event{
		Type:    EventTypeMapRegistered,
		Source:  "maps",
		Message: fmt.Sprintf("Map %s registered", name),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"name": name,
			"type": mapType,
		},
	})
}

// PublishPolicyReloaded publishes an event after fetch policies were reloaded from disk.
func (ep *EventPublisher) PublishPolicyReloaded(count int) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyReloaded,
		Source:  "fetch_policy",
		Message: fmt.Sprintf("Reloaded %d fetch policies", count),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously. Batches are
// delivered when full or when the flush interval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	maxBatch := ep.config.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 1
	}
	batch := make([]Event, 0, maxBatch)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= maxBatch {
				ep.flushBatch(batch)
				batch = make([]Event, 0, maxBatch)
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, maxBatch)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			batch = append(batch, ep.drain()...)
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// drain empties the buffer without blocking.
func (ep *EventPublisher) drain() []Event {
	var events []Event
	for {
		select {
		case event := <-ep.buffer:
			events = append(events, event)
		default:
			return events
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByChartID creates a filter that only allows events for a specific chart.
func FilterByChartID(chartID string) EventFilter {
	return func(event Event) bool {
		return event.ChartID == chartID
	}
}
