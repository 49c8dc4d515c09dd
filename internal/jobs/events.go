package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Lifecycle event names, used as the subject suffix.
const (
	EventCreated   = "created"
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Event is the payload published on each job transition.
//
// Events are published to subjects:
//
//	jobs.{job_id}.created
//	jobs.{job_id}.started
//	jobs.{job_id}.progress
//	jobs.{job_id}.completed
//	jobs.{job_id}.failed
//	jobs.{job_id}.cancelled
type Event struct {
	JobID           string    `json:"job_id"`
	Type            string    `json:"type"`
	Event           string    `json:"event"`
	Status          Status    `json:"status"`
	ProgressPercent int       `json:"progress_percent,omitempty"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher emits job lifecycle events. Publishing is best-effort; the
// job row in SQLite remains the source of truth.
type Publisher interface {
	Publish(event Event) error
}

// NATSPublisher publishes events to a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher wraps a connected NATS client.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish marshals the event and publishes it to jobs.{id}.{event}.
func (p *NATSPublisher) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("jobs.%s.%s", event.JobID, event.Event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Event, err)
	}
	return nil
}

// publishEvent sends an event through an optional publisher, logging
// failures instead of propagating them.
func publishEvent(pub Publisher, logger *zap.Logger, event Event) {
	if pub == nil {
		return
	}
	event.Timestamp = timeNow().UTC()
	if err := pub.Publish(event); err != nil {
		logger.Warn("failed to publish job event",
			zap.String("job_id", event.JobID),
			zap.String("event", event.Event),
			zap.Error(err))
	}
}
