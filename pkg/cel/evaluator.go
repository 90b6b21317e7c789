package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Input is the view of a verified webhook event that accept rules see.
type Input struct {
	EventID    string
	Source     string
	EventType  string
	Email      string
	OccurredAt time.Time
	Payload    map[string]interface{}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("occurred_at", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Rule is a compiled boolean expression.
type Rule struct {
	expression string
	program    cel.Program
}

func (r *Rule) String() string {
	return r.expression
}

// Compile checks that expression is well formed and returns bool.
func (e *Evaluator) Compile(expression string) (*Rule, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("accept rule must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Rule{expression: expression, program: program}, nil
}

func (r *Rule) Evaluate(ctx context.Context, in Input) (bool, error) {
	payload := in.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"event_id":    in.EventID,
		"source":      in.Source,
		"event_type":  in.EventType,
		"email":       in.Email,
		"occurred_at": in.OccurredAt,
		"payload":     payload,
	}

	result, _, err := r.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
