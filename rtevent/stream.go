// Package rtevent implements the structured, timestamped lifecycle event
// stream described in spec.md §6. The Scheduler and Task emit Records
// through a Stream; external collaborators (the log-file sink, a metrics
// exporter, ...) subscribe to it. Producing and fanning out records is in
// scope; any persistent sink is explicitly out of scope (spec.md §1).
package rtevent

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is one lifecycle event: a Kind constant, the ISO-8601 timestamp
// it occurred at, an arbitrary structured payload, and its CloudEvents
// v1.0 rendering.
type Record struct {
	ID         string
	Kind       string
	Timestamp  time.Time
	Subject    string
	Data       map[string]interface{}
	CloudEvent cloudevents.Event
}

// ToCloudEvent renders the Record as a CloudEvents v1.0 event, mirroring
// the teacher's modular.NewCloudEvent helper: SetID/SetSource/SetType/
// SetTime/SetSpecVersion, then SetData(ApplicationJSON, ...).
func (r Record) ToCloudEvent(source string) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(r.ID)
	event.SetSource(source)
	event.SetType(r.Kind)
	event.SetTime(r.Timestamp)
	event.SetSpecVersion(cloudevents.VersionV1)
	if r.Subject != "" {
		event.SetSubject(r.Subject)
	}
	if r.Data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, r.Data)
	}
	return event
}

// Subscriber receives Records published to a Stream. Implementations must
// not block the publisher for long; Stream.Emit fans out
// synchronously, same as the teacher's EventEmitter.EmitEvent call inline
// in the hot path.
type Subscriber interface {
	Notify(ctx context.Context, rec Record)
}

// SubscriberFunc adapts a plain function to a Subscriber.
type SubscriberFunc func(ctx context.Context, rec Record)

// Notify calls f.
func (f SubscriberFunc) Notify(ctx context.Context, rec Record) { f(ctx, rec) }

// Stream is an in-process, thread-safe publisher of Records, the core's
// "event stream sink" referenced throughout spec.md §3-§7. The source
// string identifies the emitting instance in CloudEvents form.
type Stream struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	source      string
	logger      *zap.SugaredLogger
}

// New creates a Stream. source is used as the CloudEvents "source"
// attribute for every Record this Stream publishes (e.g. "scheduler" or a
// scheduler instance name).
func New(source string, logger *zap.SugaredLogger) *Stream {
	return &Stream{source: source, logger: logger}
}

// subscription wraps a registered Subscriber in a pointer, so that an
// unsubscribe function finds its own entry by identity even when the
// Subscriber itself (e.g. a SubscriberFunc) is not comparable.
type subscription struct{ Subscriber }

// Subscribe registers a Subscriber. It returns an unsubscribe function.
func (s *Stream) Subscribe(sub Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &subscription{sub}
	s.subscribers = append(s.subscribers, entry)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subscribers {
			if existing == Subscriber(entry) {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes a lifecycle record of the given kind with the given
// subject (typically a task name) and payload, rendering it as a
// CloudEvent inline, the way the teacher's EventEmitter.EmitEvent builds
// a modular.NewCloudEvent on the hot path rather than on demand.
func (s *Stream) Emit(ctx context.Context, kind, subject string, data map[string]interface{}) {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Subject:   subject,
		Data:      data,
	}
	rec.CloudEvent = rec.ToCloudEvent(s.source)

	if s.logger != nil {
		s.logger.Debugw("event emitted", "kind", kind, "subject", subject, "ce_id", rec.CloudEvent.ID())
	}

	s.mu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Notify(ctx, rec)
	}
}

// Source returns the CloudEvents source attribute this Stream stamps onto
// every Record's ToCloudEvent rendering.
func (s *Stream) Source() string { return s.source }

// Sink adapts a Stream to the minimal, context-free Emit(kind, subject,
// data) signature that low-level packages (rtmutex, task) depend on
// instead of importing rtevent directly, keeping the dependency arrow
// pointing one way.
type Sink struct {
	stream *Stream
}

// Emit publishes a Record with context.Background().
func (s Sink) Emit(kind, subject string, data map[string]interface{}) {
	s.stream.Emit(context.Background(), kind, subject, data)
}

// AsSink returns a Sink wrapping this Stream.
func (s *Stream) AsSink() Sink { return Sink{stream: s} }
