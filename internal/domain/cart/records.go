// internal/domain/cart/records.go
package cart

import (
	"cartengine/internal/domain/condition"
)

// LoadOptions tunes how a cart is rebuilt from storage records.
type LoadOptions struct {
	AllowStacking bool
	// Registry rebuilds dynamic-condition predicates from their persisted
	// (factory key, context) refs. Nil leaves dynamic conditions
	// unhydrated; the evaluator then reports them through the failure
	// handler instead of activating them.
	Registry *condition.Registry
}

// FromRecords rebuilds a cart from the three storage payloads. Conditions
// carrying rule refs land in the dynamic set (rehydrated through the
// registry); the rest land in the active set.
func FromRecords(identifier, instance string, items []ItemRecord, conds []ConditionRecord, metadata map[string]any, opts LoadOptions) (*Cart, error) {
	c, err := New(identifier, instance)
	if err != nil {
		return nil, err
	}
	c.allowStacking = opts.AllowStacking

	for _, rec := range items {
		it, err := rec.toItem()
		if err != nil {
			return nil, err
		}
		c.putItem(it)
	}

	for _, rec := range conds {
		cond, err := rec.toCondition(opts.Registry)
		if err != nil {
			return nil, err
		}
		if cond.IsDynamic() {
			if err := c.dynamic.Put(cond); err != nil {
				return nil, err
			}
			continue
		}
		if err := c.conditions.Put(cond); err != nil {
			return nil, err
		}
	}

	for k, v := range metadata {
		c.SetMetadata(k, v)
	}
	return c, nil
}

// ToRecords serializes the cart into the three storage payloads. Dynamic
// conditions are persisted with their rule refs even while inactive, so a
// reload can re-register them; their active rules-stripped clones are
// skipped (they are re-derived on evaluation).
func (c *Cart) ToRecords() (items []ItemRecord, conds []ConditionRecord, metadata map[string]any) {
	items = make([]ItemRecord, 0, len(c.items))
	for _, it := range c.Items() {
		items = append(items, itemRecordFrom(it))
	}

	dynamicNames := map[string]struct{}{}
	conds = make([]ConditionRecord, 0, c.conditions.Len()+c.dynamic.Len())
	for _, d := range c.dynamic.All() {
		dynamicNames[d.Name()] = struct{}{}
		conds = append(conds, conditionRecordFrom(d))
	}
	for _, cond := range c.conditions.All() {
		if _, isDynamic := dynamicNames[cond.Name()]; isDynamic {
			continue
		}
		conds = append(conds, conditionRecordFrom(cond))
	}

	metadata = c.Metadata()
	return items, conds, metadata
}

// ----------------------------
// Record conversion
// ----------------------------

func itemRecordFrom(it *Item) ItemRecord {
	rec := ItemRecord{
		ID:              it.id,
		Name:            it.name,
		Price:           it.price,
		Quantity:        it.quantity,
		AssociatedModel: it.associatedModel,
	}
	if len(it.attributes) > 0 {
		rec.Attributes = it.Attributes()
	}
	for _, cond := range it.conditions.All() {
		rec.Conditions = append(rec.Conditions, conditionRecordFrom(cond))
	}
	return rec
}

func (rec ItemRecord) toItem() (*Item, error) {
	it, err := NewItem(rec.ID, rec.Name, rec.Price, rec.Quantity)
	if err != nil {
		return nil, err
	}
	if len(rec.Attributes) > 0 {
		it = it.WithAttributes(rec.Attributes)
	}
	if rec.AssociatedModel != "" {
		it = it.WithAssociatedModel(rec.AssociatedModel)
	}
	for _, cr := range rec.Conditions {
		// item conditions are always static on the wire; dynamic ones live
		// at cart scope and re-attach through evaluation
		cond, err := cr.toCondition(nil)
		if err != nil {
			return nil, err
		}
		it, err = it.WithCondition(cond)
		if err != nil {
			return nil, err
		}
	}
	return it, nil
}

func conditionRecordFrom(c *condition.Condition) ConditionRecord {
	rec := ConditionRecord{
		Name:   c.Name(),
		Type:   c.Type(),
		Target: string(c.Target()),
		Value:  c.Value(),
		Order:  c.Order(),
		Rules:  c.RuleRefs(),
	}
	if attrs := c.Attributes(); len(attrs) > 0 {
		rec.Attributes = attrs
	}
	return rec
}

func (rec ConditionRecord) toCondition(registry *condition.Registry) (*condition.Condition, error) {
	c, err := condition.New(rec.Name, rec.Type, condition.Target(rec.Target), rec.Value)
	if err != nil {
		return nil, err
	}
	if rec.Order != 0 {
		c = c.WithOrder(rec.Order)
	}
	if len(rec.Attributes) > 0 {
		c = c.WithAttributes(rec.Attributes)
	}
	if len(rec.Rules) == 0 {
		return c, nil
	}
	if registry == nil {
		// keep the refs so the condition stays registered; evaluation will
		// flag it as unhydrated instead of silently dropping it
		return c.WithRuleRefs(rec.Rules), nil
	}
	c = c.WithRuleRefs(rec.Rules)
	return registry.Rehydrate(c)
}
