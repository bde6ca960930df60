// internal/domain/condition/evaluator_test.go
package condition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attachFixed builds a dynamic clone of c whose single predicate is fixed.
func attachFixed(t *testing.T, c *Condition, rule Rule) *Condition {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register("fixed", func(RuleContext) (Rule, error) {
		return rule, nil
	}))
	attached, err := reg.Attach(c, "fixed", nil)
	require.NoError(t, err)
	return attached
}

func TestEvaluator_StaticAlwaysApplies(t *testing.T) {
	ev := NewEvaluator(nil)
	c, err := New("flat", "discount", TargetTotal, "-10")
	require.NoError(t, err)

	assert.True(t, ev.ShouldApply("add_item", c, &fakeCart{}, nil))
	assert.True(t, ev.ShouldApply("add_item", c, nil, nil))
}

func TestEvaluator_NilCondition(t *testing.T) {
	ev := NewEvaluator(nil)
	assert.False(t, ev.ShouldApply("add_item", nil, &fakeCart{}, nil))
}

func TestEvaluator_AllRulesMustPass(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("yes", func(RuleContext) (Rule, error) {
		return func(CartView, ItemView) (bool, error) { return true, nil }, nil
	}))
	require.NoError(t, reg.Register("no", func(RuleContext) (Rule, error) {
		return func(CartView, ItemView) (bool, error) { return false, nil }, nil
	}))

	ev := NewEvaluator(nil)
	base, err := New("bulk", "discount", TargetTotal, "-5%")
	require.NoError(t, err)

	bothYes, err := reg.Attach(base, "yes", nil)
	require.NoError(t, err)
	bothYes, err = reg.Attach(bothYes, "yes", nil)
	require.NoError(t, err)
	assert.True(t, ev.ShouldApply("test", bothYes, &fakeCart{}, nil))

	oneNo, err := reg.Attach(bothYes, "no", nil)
	require.NoError(t, err)
	assert.False(t, ev.ShouldApply("test", oneNo, &fakeCart{}, nil))
}

func TestEvaluator_ShortCircuitsOnFalse(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	require.NoError(t, reg.Register("no", func(RuleContext) (Rule, error) {
		return func(CartView, ItemView) (bool, error) { return false, nil }, nil
	}))
	require.NoError(t, reg.Register("count", func(RuleContext) (Rule, error) {
		return func(CartView, ItemView) (bool, error) {
			calls++
			return true, nil
		}, nil
	}))

	base, err := New("bulk", "discount", TargetTotal, "-5%")
	require.NoError(t, err)
	c, err := reg.Attach(base, "no", nil)
	require.NoError(t, err)
	c, err = reg.Attach(c, "count", nil)
	require.NoError(t, err)

	ev := NewEvaluator(nil)
	assert.False(t, ev.ShouldApply("test", c, &fakeCart{}, nil))
	assert.Equal(t, 0, calls)
}

func TestEvaluator_RuleErrorIsIsolated(t *testing.T) {
	ruleErr := errors.New("lookup failed")

	var gotOp string
	var gotCond *Condition
	var gotErr error
	var gotCtx map[string]any
	handlerCalls := 0
	ev := NewEvaluator(func(operation string, c *Condition, err error, ctx map[string]any) {
		handlerCalls++
		gotOp, gotCond, gotErr, gotCtx = operation, c, err, ctx
	})

	base, err := New("bulk", "discount", TargetTotal, "-5%")
	require.NoError(t, err)
	c := attachFixed(t, base, func(CartView, ItemView) (bool, error) {
		return true, ruleErr
	})

	cart := &fakeCart{identifier: "guest-1", instance: "cart"}
	item := &fakeItem{id: "sku-1"}
	assert.False(t, ev.ShouldApply("add_item", c, cart, item))

	require.Equal(t, 1, handlerCalls)
	assert.Equal(t, "add_item", gotOp)
	assert.Equal(t, "bulk", gotCond.Name())
	assert.ErrorIs(t, gotErr, ruleErr)
	assert.Equal(t, "guest-1", gotCtx["identifier"])
	assert.Equal(t, "cart", gotCtx["instance"])
	assert.Equal(t, "sku-1", gotCtx["item_id"])
}

func TestEvaluator_RulePanicIsRecovered(t *testing.T) {
	var gotErr error
	ev := NewEvaluator(func(_ string, _ *Condition, err error, _ map[string]any) {
		gotErr = err
	})

	base, err := New("bulk", "discount", TargetTotal, "-5%")
	require.NoError(t, err)
	c := attachFixed(t, base, func(CartView, ItemView) (bool, error) {
		panic("boom")
	})

	assert.False(t, ev.ShouldApply("add_item", c, &fakeCart{}, nil))
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "boom")
}

func TestEvaluator_UnhydratedRefs(t *testing.T) {
	var gotErr error
	ev := NewEvaluator(func(_ string, _ *Condition, err error, _ map[string]any) {
		gotErr = err
	})

	base, err := New("bulk", "discount", TargetTotal, "-5%")
	require.NoError(t, err)
	loaded := base.WithRuleRefs([]RuleRef{{Key: FactoryMinSubtotal}})

	assert.False(t, ev.ShouldApply("load", loaded, &fakeCart{subtotal: 999999}, nil))
	assert.ErrorIs(t, gotErr, ErrRulesNotHydrated)
}
