// internal/domain/condition/factories.go
package condition

import (
	"fmt"
	"strings"
)

// Built-in rule factory keys.
const (
	FactoryMinSubtotal      = "min_subtotal"
	FactoryMaxSubtotal      = "max_subtotal"
	FactoryMinTotalQuantity = "min_total_quantity"
	FactoryItemQuantityMin  = "item_quantity_min"
	FactoryMetadataEquals   = "metadata_equals"
	FactoryAttributeEquals  = "item_attribute_equals"
)

// RegisterBuiltins installs the stock predicates into reg. Call once at
// wiring time, before any dynamic condition is attached or reloaded.
func RegisterBuiltins(reg *Registry) error {
	builtins := map[string]RuleFactory{
		FactoryMinSubtotal:      minSubtotalFactory,
		FactoryMaxSubtotal:      maxSubtotalFactory,
		FactoryMinTotalQuantity: minTotalQuantityFactory,
		FactoryItemQuantityMin:  itemQuantityMinFactory,
		FactoryMetadataEquals:   metadataEqualsFactory,
		FactoryAttributeEquals:  attributeEqualsFactory,
	}
	for key, f := range builtins {
		if err := reg.Register(key, f); err != nil {
			return err
		}
	}
	return nil
}

// minSubtotalFactory activates when the cart subtotal reaches "amount"
// (minor units).
func minSubtotalFactory(rctx RuleContext) (Rule, error) {
	amount, err := ctxInt64(rctx, "amount")
	if err != nil {
		return nil, err
	}
	return func(cart CartView, _ ItemView) (bool, error) {
		if cart == nil {
			return false, nil
		}
		return cart.Subtotal() >= amount, nil
	}, nil
}

// maxSubtotalFactory activates while the cart subtotal stays under "amount".
func maxSubtotalFactory(rctx RuleContext) (Rule, error) {
	amount, err := ctxInt64(rctx, "amount")
	if err != nil {
		return nil, err
	}
	return func(cart CartView, _ ItemView) (bool, error) {
		if cart == nil {
			return false, nil
		}
		return cart.Subtotal() <= amount, nil
	}, nil
}

// minTotalQuantityFactory activates when the summed quantity of all items
// reaches "quantity".
func minTotalQuantityFactory(rctx RuleContext) (Rule, error) {
	qty, err := ctxInt64(rctx, "quantity")
	if err != nil {
		return nil, err
	}
	return func(cart CartView, _ ItemView) (bool, error) {
		if cart == nil {
			return false, nil
		}
		return int64(cart.TotalQuantity()) >= qty, nil
	}, nil
}

// itemQuantityMinFactory activates on items whose own quantity reaches
// "quantity". Cart-level evaluation (nil item) never matches.
func itemQuantityMinFactory(rctx RuleContext) (Rule, error) {
	qty, err := ctxInt64(rctx, "quantity")
	if err != nil {
		return nil, err
	}
	return func(_ CartView, item ItemView) (bool, error) {
		if item == nil {
			return false, nil
		}
		return int64(item.Quantity()) >= qty, nil
	}, nil
}

// metadataEqualsFactory activates when cart metadata at "key" equals
// "value" (string comparison).
func metadataEqualsFactory(rctx RuleContext) (Rule, error) {
	key, err := ctxString(rctx, "key")
	if err != nil {
		return nil, err
	}
	want, err := ctxString(rctx, "value")
	if err != nil {
		return nil, err
	}
	return func(cart CartView, _ ItemView) (bool, error) {
		if cart == nil {
			return false, nil
		}
		got, ok := cart.MetadataValue(key)
		if !ok {
			return false, nil
		}
		return fmt.Sprintf("%v", got) == want, nil
	}, nil
}

// attributeEqualsFactory activates on items whose attribute at "key"
// equals "value" (string comparison).
func attributeEqualsFactory(rctx RuleContext) (Rule, error) {
	key, err := ctxString(rctx, "key")
	if err != nil {
		return nil, err
	}
	want, err := ctxString(rctx, "value")
	if err != nil {
		return nil, err
	}
	return func(_ CartView, item ItemView) (bool, error) {
		if item == nil {
			return false, nil
		}
		got, ok := item.AttributeValue(key)
		if !ok {
			return false, nil
		}
		return fmt.Sprintf("%v", got) == want, nil
	}, nil
}

// ----------------------------
// Context extraction
// ----------------------------

func ctxInt64(rctx RuleContext, key string) (int64, error) {
	v, ok := rctx[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidRuleContext, key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		// JSON numbers decode as float64
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: %q must be a number, got %T", ErrInvalidRuleContext, key, v)
}

func ctxString(rctx RuleContext, key string) (string, error) {
	v, ok := rctx[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidRuleContext, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidRuleContext, key)
	}
	return s, nil
}
