// internal/domain/condition/evaluator.go
package condition

import (
	"fmt"
	"log"
)

// FailureHandler receives rule-evaluation failures. Evaluation errors are
// never propagated to the mutation call site; one malformed dynamic rule
// must not break unrelated cart mutations.
type FailureHandler func(operation string, c *Condition, err error, ctx map[string]any)

// Evaluator decides active vs. inactive for dynamic conditions.
type Evaluator struct {
	onFailure FailureHandler
}

// NewEvaluator builds an evaluator. handler may be nil; failures are then
// logged and otherwise dropped.
func NewEvaluator(handler FailureHandler) *Evaluator {
	if handler == nil {
		handler = func(operation string, c *Condition, err error, ctx map[string]any) {
			name := ""
			if c != nil {
				name = c.Name()
			}
			log.Printf("[condition_evaluator] rule failure op=%s condition=%q err=%v", operation, name, err)
		}
	}
	return &Evaluator{onFailure: handler}
}

// ShouldApply reports whether the condition is active for the current cart
// state. A static condition always applies; a dynamic condition applies only
// if every rule returns true (logical AND, short-circuit on first false).
//
// A rule error or panic marks the condition inactive for this pass and is
// redirected to the failure handler.
func (e *Evaluator) ShouldApply(operation string, c *Condition, cart CartView, item ItemView) bool {
	if c == nil {
		return false
	}
	if !c.IsDynamic() {
		return true
	}

	if len(c.rules) == 0 {
		// refs present but predicates never rebuilt (unknown factory at
		// load, or loader skipped rehydration)
		e.fail(operation, c, ErrRulesNotHydrated, cart, item)
		return false
	}

	for _, rule := range c.rules {
		ok, err := evalRule(rule, cart, item)
		if err != nil {
			e.fail(operation, c, err, cart, item)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func (e *Evaluator) fail(operation string, c *Condition, err error, cart CartView, item ItemView) {
	ctx := map[string]any{}
	if cart != nil {
		ctx["identifier"] = cart.Identifier()
		ctx["instance"] = cart.Instance()
	}
	if item != nil {
		ctx["item_id"] = item.ID()
	}
	e.onFailure(operation, c, err, ctx)
}

// evalRule isolates a single predicate call, converting panics to errors.
func evalRule(rule Rule, cart CartView, item ItemView) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("condition: rule panicked: %v", r)
		}
	}()
	if rule == nil {
		return false, ErrRulesNotHydrated
	}
	return rule(cart, item)
}
