// Package events publishes job lifecycle notifications.
//
// Events go to NATS on subjects of the form
//
//	{prefix}.{job_id}.{kind}
//
// where kind is one of plan.created, task.updated, dispatch.completed,
// verification.completed or job.transitioned. Publishing is best effort:
// failures are logged and never returned to the operation that raised them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Kind names an event type and is the last subject token.
type Kind string

const (
	PlanCreated           Kind = "plan.created"
	TaskUpdated           Kind = "task.updated"
	DispatchCompleted     Kind = "dispatch.completed"
	VerificationCompleted Kind = "verification.completed"
	JobTransitioned       Kind = "job.transitioned"
)

// Event is the JSON envelope published for every kind.
type Event struct {
	Kind    Kind            `json:"kind"`
	JobID   string          `json:"job_id"`
	TraceID string          `json:"trace_id,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher emits events. Implementations never fail the caller.
type Publisher interface {
	Publish(ctx context.Context, jobID string, kind Kind, payload any)
}

// Nop discards events. Used when NATS is disabled.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, Kind, any) {}

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "remediation"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("remedyd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

// Subject returns the subject an event for jobID and kind is published on.
func (p *NATSPublisher) Subject(jobID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, jobID, kind)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, jobID string, kind Kind, payload any) {
	ev := Event{Kind: kind, JobID: jobID, Time: p.now().UTC()}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			p.logger.Warn("event payload not encodable",
				zap.String("job_id", jobID), zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		ev.Payload = body
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("event not encodable", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.Subject(jobID, kind), data); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("job_id", jobID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Flush waits for buffered events to reach the server.
func (p *NATSPublisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
