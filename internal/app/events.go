package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/photo-orderflow/internal/aws"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// EventMessage is the queue payload for every persisted transition. The
// mail sender reacts to "unpaid" and "paid".
type EventMessage struct {
	Reference    string       `json:"reference"`
	SessionID    string       `json:"session_id"`
	From         orders.State `json:"from"`
	To           orders.State `json:"to"`
	At           time.Time    `json:"at"`
	ContactEmail string       `json:"contact_email,omitempty"`
	AmountTotal  string       `json:"amount_total"`
	Photos       int          `json:"photos"`
}

// EventType is the message attribute consumers filter on.
func EventType(to orders.State) string {
	return "order." + string(to)
}

// publishHook forwards lifecycle events to the queue. One message per
// (reference, state) so FIFO deduplication drops replays.
func publishHook(p *aws.Publisher) lifecycle.Hook {
	return func(ctx context.Context, ev lifecycle.Event) error {
		msg := EventMessage{
			Reference: ev.Reference,
			From:      ev.From,
			To:        ev.To,
			At:        ev.At.UTC(),
		}
		if ev.Record != nil {
			msg.SessionID = ev.Record.SessionID
			msg.ContactEmail = ev.Record.ContactEmail
			msg.AmountTotal = ev.Record.AmountTotal.StringFixed(2)
			msg.Photos = ev.Record.PhotoCount()
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.Reference, err)
		}
		return p.Publish(ctx, aws.Message{
			Body:            string(body),
			GroupID:         ev.Reference,
			DeduplicationID: ev.Reference + ":" + string(ev.To),
			Attributes: map[string]string{
				"event_type": EventType(ev.To),
				"reference":  ev.Reference,
			},
		})
	}
}
