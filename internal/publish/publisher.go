package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OracleMon/internal/observability"
	"OracleMon/internal/registry"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects follow oracle.monitor.events.{event_type}.
const (
	streamName    = "ORACLE_MONITOR_EVENTS"
	subjectPrefix = "oracle.monitor.events"
)

// Event is the envelope published for every observable registry change.
type Event struct {
	EventID   uuid.UUID `json:"eventId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`

	QueryID    int64  `json:"queryId"`
	Tick       uint32 `json:"tick"`
	Status     string `json:"status"`
	PrevStatus string `json:"prevStatus,omitempty"`

	Pair   string   `json:"pair,omitempty"`
	Price  *float64 `json:"price,omitempty"`
	IsSeal bool     `json:"isSeal,omitempty"`
	Sender string   `json:"sender,omitempty"`
}

// Connect dials NATS and returns a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}

// Publisher emits discovery and status-change events to JetStream.
// Publishing is fire-and-forget: a failed publish is logged and counted,
// the monitor loop never blocks or dies on it.
type Publisher struct {
	js      jetstream.JetStream
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(js jetstream.JetStream, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, logger: logger, metrics: metrics}
}

// QueryDiscovered publishes the first observation of a query.
func (p *Publisher) QueryDiscovered(ctx context.Context, e *registry.QueryEntry) {
	p.publish(ctx, "query_discovered", e, "")
}

// StatusChanged publishes an observed lifecycle transition.
func (p *Publisher) StatusChanged(ctx context.Context, e *registry.QueryEntry, prev registry.QueryStatus) {
	p.publish(ctx, "status_changed", e, prev.String())
}

func (p *Publisher) publish(ctx context.Context, eventType string, e *registry.QueryEntry, prevStatus string) {
	evt := Event{
		EventID:    uuid.New(),
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		QueryID:    e.QueryID,
		Tick:       e.Tick,
		Status:     e.Status.String(),
		PrevStatus: prevStatus,
		IsSeal:     e.IsSeal,
		Sender:     e.Sender(),
	}
	if e.Price != nil {
		evt.Pair = e.Price.Pair()
		if e.Price.HasReply {
			price := e.Price.Price
			evt.Price = &price
		}
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.fail(e.QueryID, eventType, err)
		return
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, eventType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.fail(e.QueryID, eventType, err)
	}
}

func (p *Publisher) fail(queryID int64, eventType string, err error) {
	p.logger.Warn().
		Int64("query_id", queryID).
		Str("event_type", eventType).
		Err(err).
		Msg("event publish failed")
	if p.metrics != nil {
		p.metrics.PublishErrors.Inc()
	}
}
