// Package notify announces working-stream changes to downstream consumers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"go.uber.org/zap"
)

// Publisher sends one payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event is the payload published for one cache change.
type Event struct {
	CycleID   string           `json:"cycle_id"`
	ChannelID string           `json:"channel_id"`
	Kind      cache.ChangeKind `json:"kind"`
	OldURL    string           `json:"old_url,omitempty"`
	NewURL    string           `json:"new_url,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier publishes cache changes one event at a time.
type Notifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifier builds a Notifier. A nil publisher makes Notify a no-op.
func NewNotifier(publisher Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger}
}

// Notify publishes every change and returns how many succeeded. Failures do not stop the rest.
func (n *Notifier) Notify(ctx context.Context, cycleID string, at time.Time, changes []cache.Change) (int, error) {
	if n == nil || n.publisher == nil || len(changes) == 0 {
		return 0, nil
	}
	var (
		sent int
		errs []error
	)
	for _, c := range changes {
		event := Event{
			CycleID:   cycleID,
			ChannelID: c.ChannelID,
			Kind:      c.Kind,
			OldURL:    c.OldURL,
			NewURL:    c.NewURL,
			At:        at,
		}
		id, err := n.publisher.Publish(ctx, n.topic, event)
		if err != nil {
			n.logger.Warn("publish change failed",
				zap.String("channel_id", c.ChannelID),
				zap.String("kind", string(c.Kind)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("publish %s: %w", c.ChannelID, err))
			continue
		}
		sent++
		n.logger.Debug("change published",
			zap.String("channel_id", c.ChannelID),
			zap.String("message_id", id),
		)
	}
	return sent, errors.Join(errs...)
}
