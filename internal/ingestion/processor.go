package ingestion

import (
	"context"

	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
)

const (
	ReasonMissingContact = "missing_contact"
	ReasonRejectedByRule = "rejected_by_rule"
)

// Delivery is a verified, parsed webhook on its way to the business layer.
type Delivery struct {
	Source    string
	RequestID string
	Event     *ParsedEvent
	Raw       []byte
}

// Applier performs the business effect of a delivery: creating or updating
// contacts, transactions and the like. It is the seam to the CRUD
// application.
type Applier interface {
	Apply(ctx context.Context, d *Delivery) (ledger.Outcome, error)
}

// Result is what processing a delivery produced.
type Result struct {
	Status  ledger.Status
	Outcome ledger.Outcome
	Reason  string
	Err     error
}

type Processor struct {
	rules   *AcceptRules
	applier Applier
	logger  logger.Logger
}

func NewProcessor(rules *AcceptRules, applier Applier, log logger.Logger) *Processor {
	return &Processor{rules: rules, applier: applier, logger: log}
}

// Process applies d unless it has no contact or the source's accept rule
// rejects it. Applier panics are recovered into fatal errors.
func (p *Processor) Process(ctx context.Context, d *Delivery) Result {
	if d.Event.Email == "" {
		return Result{Status: ledger.StatusAcceptedUnprocessed, Reason: ReasonMissingContact}
	}

	accepted, err := p.rules.Accepts(ctx, d.Source, d.Event)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Accept rule could not be evaluated, skipping event",
			"event_type", d.Event.EventType,
			"error", err,
		)
	}
	if !accepted {
		return Result{Status: ledger.StatusAcceptedUnprocessed, Reason: ReasonRejectedByRule}
	}

	outcome, err := p.apply(ctx, d)
	if err != nil {
		return Result{Status: ledger.StatusFailed, Err: err}
	}
	return Result{Status: ledger.StatusSuccess, Outcome: outcome}
}

func (p *Processor) apply(ctx context.Context, d *Delivery) (outcome ledger.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return p.applier.Apply(ctx, d)
}

// LogApplier acknowledges deliveries by logging them. It stands in for the
// business layer when no broker is configured.
type LogApplier struct {
	logger logger.Logger
}

func NewLogApplier(log logger.Logger) *LogApplier {
	return &LogApplier{logger: log}
}

func (a *LogApplier) Apply(ctx context.Context, d *Delivery) (ledger.Outcome, error) {
	a.logger.InfowCtx(ctx, "Webhook accepted without forwarding",
		"event_type", d.Event.EventType,
		"webhook_id", d.Event.WebhookID,
	)
	return ledger.Outcome{"applied": "logged"}, nil
}
