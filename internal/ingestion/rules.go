package ingestion

import (
	"context"
	"fmt"
	"time"

	"hookgate/pkg/cel"
)

// AcceptRules holds the compiled per-source accept rule. Sources without a
// rule accept every event.
type AcceptRules struct {
	rules map[string]*cel.Rule
}

func NewAcceptRules(expressions map[string]string) (*AcceptRules, error) {
	ar := &AcceptRules{rules: make(map[string]*cel.Rule)}
	if len(expressions) == 0 {
		return ar, nil
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	for source, expr := range expressions {
		if expr == "" {
			continue
		}
		rule, err := eval.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid accept rule for %s: %w", source, err)
		}
		ar.rules[source] = rule
	}
	return ar, nil
}

// Accepts evaluates the source's rule against ev. A rule that fails to
// evaluate (for example a missing payload field) rejects the event.
func (ar *AcceptRules) Accepts(ctx context.Context, source string, ev *ParsedEvent) (bool, error) {
	if ar == nil {
		return true, nil
	}
	rule, ok := ar.rules[source]
	if !ok {
		return true, nil
	}

	in := cel.Input{
		EventID:   ev.WebhookID,
		Source:    source,
		EventType: ev.EventType,
		Email:     ev.Email,
		Payload:   ev.Fields,
	}
	if ev.OccurredAt != nil {
		in.OccurredAt = *ev.OccurredAt
	} else {
		in.OccurredAt = time.Unix(0, 0).UTC()
	}

	return rule.Evaluate(ctx, in)
}
