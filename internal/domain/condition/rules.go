// internal/domain/condition/rules.go
package condition

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidFactoryKey  = errors.New("condition: invalid rule factory key")
	ErrDuplicateFactory   = errors.New("condition: rule factory already registered")
	ErrInvalidRuleContext = errors.New("condition: invalid rule context")
)

// CartView is the read surface a rule predicate sees of the cart under
// evaluation. Implemented by the cart aggregate.
type CartView interface {
	Identifier() string
	Instance() string
	ItemCount() int
	TotalQuantity() int
	Subtotal() int64
	MetadataValue(key string) (any, bool)
}

// ItemView is the read surface of a single line item. Nil for cart-level
// evaluation.
type ItemView interface {
	ID() string
	Name() string
	UnitPrice() int64
	Quantity() int
	AttributeValue(key string) (any, bool)
}

// Rule is one activation predicate. A dynamic condition applies only when
// every rule returns true.
type Rule func(cart CartView, item ItemView) (bool, error)

// RuleContext parameterizes a rule factory (e.g. {"min_items": 2}).
type RuleContext map[string]any

// RuleRef is the persisted form of a rule: the factory key plus the context
// it was built from. Predicates are never serialized; after a reload the
// same (key, context) pair rebuilds the same predicate.
type RuleRef struct {
	Key     string      `json:"key"`
	Context RuleContext `json:"context,omitempty"`
}

// RuleFactory builds a predicate from a context map. The factory must
// validate the context shape and reject it here, at registration time, not
// during evaluation.
type RuleFactory func(rctx RuleContext) (Rule, error)

// Registry maps string keys to rule factories. New predicate types plug in
// without touching the evaluator.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RuleFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]RuleFactory{}}
}

func (r *Registry) Register(key string, f RuleFactory) error {
	k := strings.TrimSpace(key)
	if k == "" || f == nil {
		return ErrInvalidFactoryKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[k]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFactory, k)
	}
	r.factories[k] = f
	return nil
}

// Build constructs a predicate for (key, context). Unknown keys are a domain
// error surfaced to the caller.
func (r *Registry) Build(key string, rctx RuleContext) (Rule, error) {
	k := strings.TrimSpace(key)
	r.mu.RLock()
	f, ok := r.factories[k]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleFactory, key)
	}
	rule, err := f(rctx)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: factory %q returned nil rule", ErrInvalidRuleContext, key)
	}
	return rule, nil
}

// Attach validates the context against the factory, builds the predicate and
// returns a clone of the condition carrying both the predicate and its
// persistable (key, context) ref.
func (r *Registry) Attach(c *Condition, key string, rctx RuleContext) (*Condition, error) {
	if c == nil {
		return nil, ErrNilCondition
	}
	rule, err := r.Build(key, rctx)
	if err != nil {
		return nil, err
	}
	ref := RuleRef{Key: strings.TrimSpace(key), Context: rctx}
	return c.withRule(ref, rule), nil
}

// Rehydrate rebuilds the predicates of a reloaded condition from its
// persisted refs. The same (key, context) pairs reconstruct the same
// predicates deterministically.
func (r *Registry) Rehydrate(c *Condition) (*Condition, error) {
	if c == nil {
		return nil, ErrNilCondition
	}
	if len(c.ruleRefs) == 0 {
		return c, nil
	}

	cl := c.clone()
	cl.rules = make([]Rule, 0, len(cl.ruleRefs))
	for _, ref := range cl.ruleRefs {
		rule, err := r.Build(ref.Key, ref.Context)
		if err != nil {
			return nil, err
		}
		cl.rules = append(cl.rules, rule)
	}
	return cl, nil
}
