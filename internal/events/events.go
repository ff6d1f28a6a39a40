// Package events publishes reconciled transitions to a message broker for
// consumers outside the agent.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/carpool-sync/internal/status"
)

// Message is the wire form of one transition.
type Message struct {
	ID     string       `json:"id"`
	UserID int64        `json:"user_id"`
	Role   string       `json:"role"`
	Event  status.Event `json:"event"`
}

// RoutingKey groups messages by entity, e.g. "passenger.ProceedToPayment".
func (m Message) RoutingKey() string {
	return fmt.Sprintf("%s.%s", m.Event.Kind, m.Event.Type)
}

func (m Message) partitionKey() []byte {
	return []byte(fmt.Sprintf("%s:%d", m.Event.Kind, m.Event.EntityID))
}

type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

// Nop drops everything; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Close() error { return nil }

func encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// withRetry calls fn up to attempts times, doubling delay after each failure.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
