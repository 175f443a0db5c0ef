package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeSubmissionCreated     Type = "submission_created"
	TypeSubmissionPublished   Type = "submission_published"
	TypeSubmissionUnpublished Type = "submission_unpublished"
	TypeSubmissionPurged      Type = "submission_purged"
	TypeFileAttached          Type = "file_attached"
	TypeJobReady              Type = "job_ready"
	TypeJobStarted            Type = "job_started"
	TypeJobFinished           Type = "job_finished"
	TypeJobInvalid            Type = "job_invalid"
	TypeJobFailed             Type = "job_failed"
	TypeJobRetried            Type = "job_retried"
)

// Event represents a system event.
type Event struct {
	Type         Type            `json:"type"`
	SubmissionID uuid.UUID       `json:"submission_id,omitempty"`
	JobID        uuid.UUID       `json:"job_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Filter defines criteria for receiving events.
type Filter struct {
	SubmissionID uuid.UUID
	JobID        uuid.UUID
	Types        []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

// Nop discards every event.
func Nop() Bus {
	return nop{}
}

type nop struct{}

func (nop) Publish(Event) {}

func (nop) Subscribe(ctx context.Context, _ Filter) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if b.matches(filter, e) {
			select {
			case ch <- e:
			default:
				// Drop event if channel is full to prevent blocking
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) matches(filter Filter, e Event) bool {
	if filter.SubmissionID != uuid.Nil && filter.SubmissionID != e.SubmissionID {
		return false
	}
	if filter.JobID != uuid.Nil && filter.JobID != e.JobID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
