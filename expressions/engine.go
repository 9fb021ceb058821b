// Package expressions provides pluggable expression engines for declarative
// step bodies, conditions, and item selectors: Expr for deterministic logic,
// CEL for conditions, and jq for data transforms.
package expressions

import "context"

// Engine evaluates an expression against a data map.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
