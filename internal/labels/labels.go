package labels

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/compatlabel/internal/providers"
	"github.com/compatlabel/internal/severity"
)

// Configuration maps each category to the label that marks it. A missing or
// empty entry means no label is configured for that category.
type Configuration map[severity.Category]string

// Label returns the label configured for c.
func (cfg Configuration) Label(c severity.Category) (string, bool) {
	name, ok := cfg[c]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Plan is the label change needed to mark one category.
type Plan struct {
	Apply  string   // empty when the category has no label
	Remove []string // labels of every other configured category, in category order
}

// BuildPlan computes the plan for category c.
func BuildPlan(c severity.Category, cfg Configuration) Plan {
	var plan Plan
	if name, ok := cfg.Label(c); ok {
		plan.Apply = name
	}
	seen := map[string]bool{plan.Apply: true}
	for _, other := range severity.Categories() {
		if other == c {
			continue
		}
		// A label shared with the applied category must stay.
		if name, ok := cfg.Label(other); ok && !seen[name] {
			seen[name] = true
			plan.Remove = append(plan.Remove, name)
		}
	}
	return plan
}

// Error reports which label operation failed.
type Error struct {
	Op    string // "add" or "remove"
	Label string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s label %q: %v", e.Op, e.Label, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reconcile converges the request's compatibility labels to exactly the one
// configured for c. The new label is added before stale ones are removed, so
// a request that already carried the right label never loses it. Calls are
// made one at a time and the first failure stops the run.
func Reconcile(ctx context.Context, client providers.LabelClient, requestID int, c severity.Category, cfg Configuration, logger zerolog.Logger) (Plan, error) {
	plan := BuildPlan(c, cfg)

	logger.Info().
		Str("category", c.String()).
		Str("apply", plan.Apply).
		Strs("remove", plan.Remove).
		Int("request_id", requestID).
		Str("provider", client.Name()).
		Msg("Reconciling labels")

	if plan.Apply != "" {
		if err := client.AddLabel(ctx, requestID, plan.Apply); err != nil {
			return plan, &Error{Op: "add", Label: plan.Apply, Err: err}
		}
	} else {
		logger.Info().Str("category", c.String()).Msg("No label configured for category")
	}

	for _, name := range plan.Remove {
		if err := client.RemoveLabel(ctx, requestID, name); err != nil {
			return plan, &Error{Op: "remove", Label: name, Err: err}
		}
	}

	return plan, nil
}
