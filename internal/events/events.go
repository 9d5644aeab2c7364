// Package events carries ledger and session changes to the outside world.
//
// Producers call Publish and never see delivery failures: sinks log their own
// errors so that a broken broker connection cannot fail a user action.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ExpenseCreated      Type = "expense.created"
	ExpenseDeleted      Type = "expense.deleted"
	ExpensesImported    Type = "expenses.imported"
	ImportDiscarded     Type = "import.discarded"
	NotificationCreated Type = "notification.created"
	NotificationExpired Type = "notification.expired"
	ChatMessage         Type = "chat.message"
)

type Event struct {
	ID   string    `json:"id"`
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, data any) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: time.Now().UTC(), Data: data}
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Fanout delivers every event to each publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory. Tests use it to assert on
// what a component emitted.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// Events returns the events recorded so far without blocking.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Next waits up to d for the next event.
func (r *Recorder) Next(d time.Duration) (Event, bool) {
	select {
	case e := <-r.ch:
		return e, true
	case <-time.After(d):
		return Event{}, false
	}
}
