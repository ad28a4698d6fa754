// Package policy evaluates Rego policies that guard destructive
// reconciliation decisions. With no policies loaded everything is
// allowed; a loaded policy denies a deletion by producing a reason
// under data.ohjaamo.deny.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

// DeleteInput is the document a deletion policy is evaluated against.
type DeleteInput struct {
	Resource  types.Resource `json:"resource"`
	ScopeID   string         `json:"scope_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Guard holds compiled policies.
type Guard struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// NewGuard creates an empty guard that allows everything.
func NewGuard() *Guard {
	return &Guard{
		logger:  telemetry.NewLogger("policy"),
		tracer:  otel.Tracer("policy"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego module and registers it under name.
func (g *Guard) LoadPolicy(ctx context.Context, name, regoCode string) error {
	ctx, span := g.tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.ohjaamo.deny"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", name, err)
	}

	g.queries[name] = prepared

	g.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// AllowDelete reports whether reconciliation may delete the local
// record for a resource that vanished from the backend. The second
// return value carries the denial reason.
func (g *Guard) AllowDelete(ctx context.Context, res types.Resource) (bool, string, error) {
	if len(g.queries) == 0 {
		return true, "", nil
	}

	ctx, span := g.tracer.Start(ctx, "policy.allow_delete",
		trace.WithAttributes(attribute.String("resource.id", res.ID)))
	defer span.End()

	input := DeleteInput{
		Resource:  res,
		ScopeID:   res.Scope.ID,
		Timestamp: time.Now().UTC(),
	}

	for name, query := range g.queries {
		results, err := query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return false, "", fmt.Errorf("evaluate policy %s: %w", name, err)
		}
		if reason, denied := firstDenial(results); denied {
			g.logger.WithContext(ctx).Warn().
				Str("policy_name", name).
				Str("resource_id", res.ID).
				Str("reason", reason).
				Msg("deletion denied by policy")
			return false, reason, nil
		}
	}

	return true, "", nil
}

// firstDenial extracts a denial message from an eval result set.
func firstDenial(results rego.ResultSet) (string, bool) {
	for _, result := range results {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				if msg, ok := v.(string); ok {
					return msg, true
				}
			}
		}
	}
	return "", false
}
