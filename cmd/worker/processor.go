package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/app"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/validation"
)

// Processor applies queued status reports and runs the scheduled sweep.
type Processor struct {
	app      *app.App
	validate *validatorv10.Validate
	log      *zap.Logger
}

// NewProcessor creates a worker processor over the wired engine.
func NewProcessor(a *app.App) *Processor {
	return &Processor{app: a, validate: validation.New(), log: a.Log.Named("worker")}
}

// HandleSQS receives an SQS batch and reports the messages that must be
// retried. Replayed messages are harmless: re-applying a transition is a
// no-op.
func (p *Processor) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		if err == nil {
			continue
		}
		if permanent(err) {
			// retrying cannot help; let it go instead of poisoning the batch
			p.log.Error("dropping message", zap.String("message_id", rec.MessageId), zap.Error(err))
			continue
		}
		p.log.Warn("message will be retried", zap.String("message_id", rec.MessageId), zap.Error(err))
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg TransitionMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w: %v", errMalformed, err)
	}
	req := validation.TransitionRequest{Target: msg.Target, PaymentMethod: msg.PaymentMethod, Amount: msg.Amount}
	if msg.Reference == "" {
		return fmt.Errorf("message %s has no reference: %w", rec.MessageId, errMalformed)
	}
	if err := p.validate.Struct(req); err != nil {
		return fmt.Errorf("message %s: %w: %v", rec.MessageId, errMalformed, validation.FieldErrors(err))
	}

	in := lifecycle.Input{PaymentMethod: msg.PaymentMethod, Actor: msg.Actor}
	if in.Actor == "" {
		in.Actor = "queue"
	}
	if msg.Amount != "" {
		amount, err := decimal.NewFromString(msg.Amount)
		if err != nil {
			return fmt.Errorf("message %s amount: %w: %v", rec.MessageId, errMalformed, err)
		}
		in.Amount = amount
	}

	p.log.Info("applying reported transition",
		zap.String("reference", msg.Reference),
		zap.String("target", msg.Target),
		zap.String("correlation_id", msg.CorrelationID))
	_, err := p.app.Machine.Transition(ctx, msg.Reference, orders.State(msg.Target), in)
	return err
}

var errMalformed = errors.New("malformed message")

// permanent reports errors that redelivery cannot fix.
func permanent(err error) bool {
	return !errors.Is(err, orders.ErrStorage) && !errors.Is(err, context.DeadlineExceeded)
}

// HandleSchedule runs on the EventBridge schedule: it sweeps stale drafts
// and publishes badge metrics.
func (p *Processor) HandleSchedule(ctx context.Context, ev events.CloudWatchEvent) (SweepResult, error) {
	p.log.Info("scheduled run", zap.String("event_id", ev.ID), zap.Time("time", ev.Time))

	removed, sweepErr := p.app.Sweeper.Sweep(ctx, p.app.Sweeper.Retention())
	res := SweepResult{Removed: removed}

	badges, err := p.app.PublishBadges(ctx)
	if badges != nil {
		res.Badges = badges.Values()
	}
	return res, errors.Join(sweepErr, err)
}
