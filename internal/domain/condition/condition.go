// internal/domain/condition/condition.go
package condition

import (
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Target is where a condition applies.
type Target string

const (
	TargetSubtotal Target = "subtotal"
	TargetTotal    Target = "total"
	TargetItem     Target = "item"
)

// Errors
var (
	ErrInvalidName        = errors.New("condition: invalid name")
	ErrInvalidType        = errors.New("condition: invalid type")
	ErrInvalidTarget      = errors.New("condition: invalid target")
	ErrInvalidValue       = errors.New("condition: invalid value")
	ErrInvalidAttributes  = errors.New("condition: invalid attributes")
	ErrUnknownRuleFactory = errors.New("condition: unknown rule factory")
	ErrRulesNotHydrated   = errors.New("condition: rules not hydrated")
)

// Condition is an immutable pricing adjustment (discount/fee/tax/shipping).
//
// Mutation produces a new instance (With*); the zero value is not usable,
// construct via New.
type Condition struct {
	name       string
	condType   string
	target     Target
	value      string // raw value string, kept for persistence
	op         Operator
	magnitude  decimal.Decimal // percent is stored as a fraction (10% -> 0.10)
	attributes map[string]any
	order      int

	// Dynamic-condition state. ruleRefs is the persisted (factory key,
	// context) list; rules is the hydrated predicate list.
	ruleRefs []RuleRef
	rules    []Rule

	// WithoutRules() memoization. Computed once per instance so repeated
	// calls return the identical clone (downstream consumers compare by
	// identity when deciding whether to re-register).
	staticOnce  sync.Once
	staticClone *Condition
}

// New validates and builds a static condition.
func New(name, condType string, target Target, value string) (*Condition, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return nil, ErrInvalidName
	}
	t := strings.TrimSpace(condType)
	if t == "" {
		return nil, ErrInvalidType
	}
	switch target {
	case TargetSubtotal, TargetTotal, TargetItem:
	default:
		return nil, ErrInvalidTarget
	}

	op, mag, err := parseValue(value)
	if err != nil {
		return nil, err
	}

	return &Condition{
		name:      n,
		condType:  t,
		target:    target,
		value:     strings.TrimSpace(value),
		op:        op,
		magnitude: mag,
	}, nil
}

// ----------------------------
// Accessors
// ----------------------------

func (c *Condition) Name() string { return c.name }
func (c *Condition) Type() string { return c.condType }
func (c *Condition) Target() Target { return c.target }
func (c *Condition) Value() string { return c.value }
func (c *Condition) Operator() Operator { return c.op }
func (c *Condition) Order() int { return c.order }

// Attributes returns a copy; the condition itself stays immutable.
func (c *Condition) Attributes() map[string]any {
	if len(c.attributes) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

// Attribute returns a single attribute value.
func (c *Condition) Attribute(key string) (any, bool) {
	v, ok := c.attributes[strings.TrimSpace(key)]
	return v, ok
}

// RuleRefs returns the persisted (factory key, context) pairs.
func (c *Condition) RuleRefs() []RuleRef {
	if len(c.ruleRefs) == 0 {
		return nil
	}
	out := make([]RuleRef, len(c.ruleRefs))
	copy(out, c.ruleRefs)
	return out
}

// ----------------------------
// Classification
// ----------------------------

// IsDiscount reports whether applying the condition lowers the base.
func (c *Condition) IsDiscount() bool {
	if c.op == OpSubtract {
		return true
	}
	return c.op == OpPercent && c.magnitude.IsNegative()
}

// IsCharge reports whether applying the condition raises the base.
func (c *Condition) IsCharge() bool {
	if c.op == OpAdd {
		return true
	}
	return c.op == OpPercent && c.magnitude.IsPositive()
}

func (c *Condition) IsPercentage() bool { return c.op == OpPercent }

// IsDynamic reports whether activation depends on rule predicates.
func (c *Condition) IsDynamic() bool {
	return len(c.ruleRefs) > 0 || len(c.rules) > 0
}

// ----------------------------
// Application
// ----------------------------

// Apply folds the condition over a base amount in minor units.
func (c *Condition) Apply(base int64) int64 {
	return applyValue(c.op, c.magnitude, base)
}

// ApplyOnOriginal applies a percentage condition relative to an original
// base while the running value is current. Used when stacking is disabled.
// Non-percentage conditions fall back to Apply on the current value.
func (c *Condition) ApplyOnOriginal(current, original int64) int64 {
	if c.op != OpPercent {
		return c.Apply(current)
	}
	v := current + percentDelta(c.magnitude, original)
	if v < 0 {
		return 0
	}
	return v
}

// ----------------------------
// Derivation (immutable "with" methods)
// ----------------------------

// WithOrder returns a clone with the application order set.
func (c *Condition) WithOrder(order int) *Condition {
	cl := c.clone()
	cl.order = order
	return cl
}

// WithAttributes returns a clone with the attribute map replaced.
func (c *Condition) WithAttributes(attrs map[string]any) *Condition {
	cl := c.clone()
	if len(attrs) == 0 {
		cl.attributes = nil
		return cl
	}
	cl.attributes = make(map[string]any, len(attrs))
	for k, v := range attrs {
		cl.attributes[k] = v
	}
	return cl
}

// WithRuleRefs returns a clone carrying persisted rule refs without
// hydrated predicates. Used by storage loading; Registry.Rehydrate rebuilds
// the predicates.
func (c *Condition) WithRuleRefs(refs []RuleRef) *Condition {
	cl := c.clone()
	cl.rules = nil
	if len(refs) == 0 {
		cl.ruleRefs = nil
		return cl
	}
	cl.ruleRefs = append([]RuleRef{}, refs...)
	return cl
}

// withRule returns a clone with one more (ref, predicate) pair. Rules are
// attached through Registry.Attach so the context is validated against the
// factory at registration time.
func (c *Condition) withRule(ref RuleRef, rule Rule) *Condition {
	cl := c.clone()
	cl.ruleRefs = append(append([]RuleRef{}, c.ruleRefs...), ref)
	cl.rules = append(append([]Rule{}, c.rules...), rule)
	return cl
}

// WithoutRules returns a rules-stripped clone. For a dynamic condition the
// clone is computed once and cached, so repeated calls return the same
// pointer. A static condition returns itself.
func (c *Condition) WithoutRules() *Condition {
	if !c.IsDynamic() {
		return c
	}
	c.staticOnce.Do(func() {
		cl := c.clone()
		cl.ruleRefs = nil
		cl.rules = nil
		c.staticClone = cl
	})
	return c.staticClone
}

// clone copies everything except the memoization state, which is per
// instance.
func (c *Condition) clone() *Condition {
	cl := &Condition{
		name:      c.name,
		condType:  c.condType,
		target:    c.target,
		value:     c.value,
		op:        c.op,
		magnitude: c.magnitude,
		order:     c.order,
	}
	if len(c.attributes) > 0 {
		cl.attributes = make(map[string]any, len(c.attributes))
		for k, v := range c.attributes {
			cl.attributes[k] = v
		}
	}
	if len(c.ruleRefs) > 0 {
		cl.ruleRefs = append([]RuleRef{}, c.ruleRefs...)
	}
	if len(c.rules) > 0 {
		cl.rules = append([]Rule{}, c.rules...)
	}
	return cl
}
