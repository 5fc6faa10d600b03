// Package notify turns bus events into user-facing notifications. Sending is
// best effort: a failed send is logged and dropped, never retried, so a flaky
// channel cannot pile up bus redeliveries.
package notify

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Notification is one message addressed to a user.
type Notification struct {
	UserID  string
	BoardID string
	Subject string
	Body    string
}

// Sender delivers a notification over some channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log. Default when no real channel is
// configured.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"user":    n.UserID,
		"board":   n.BoardID,
		"subject": n.Subject,
	}).Info(n.Body)
	return nil
}

// Dispatcher routes bus events to a Sender.
type Dispatcher struct {
	sender Sender
	logger *log.Logger
}

func NewDispatcher(sender Sender, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Handle consumes one bus event. It returns an error only when the payload
// cannot be decoded; send failures are swallowed after logging.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.Event) error {
	n, ok, err := d.build(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := d.sender.Send(ctx, n); err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"event": ev.ID,
			"route": ev.RoutingKey,
			"user":  n.UserID,
		}).Warn("notification dropped")
	}
	return nil
}

func (d *Dispatcher) build(ev domain.Event) (Notification, bool, error) {
	switch ev.RoutingKey {
	case domain.RouteCardCreated:
		var p domain.CardCreated
		if err := sonic.Unmarshal(ev.Data, &p); err != nil {
			return Notification{}, false, fmt.Errorf("decode %s: %w", ev.RoutingKey, err)
		}
		return Notification{
			UserID:  p.ActorID,
			BoardID: p.BoardID,
			Subject: "Card created",
			Body:    fmt.Sprintf("Card %q was added to list %s", p.Title, p.ListID),
		}, true, nil
	case domain.RouteCardMoved:
		var p domain.CardMoved
		if err := sonic.Unmarshal(ev.Data, &p); err != nil {
			return Notification{}, false, fmt.Errorf("decode %s: %w", ev.RoutingKey, err)
		}
		return Notification{
			UserID:  p.ActorID,
			BoardID: p.BoardID,
			Subject: "Card moved",
			Body:    fmt.Sprintf("Card %s moved from list %s to list %s", p.CardID, p.FromListID, p.ToListID),
		}, true, nil
	default:
		return Notification{}, false, nil
	}
}
