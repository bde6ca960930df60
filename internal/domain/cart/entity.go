// internal/domain/cart/entity.go
package cart

import (
	"errors"
	"sort"
	"strings"

	"cartengine/internal/domain/condition"
)

var (
	ErrInvalidIdentifier = errors.New("cart: invalid identifier")
	ErrInvalidInstance   = errors.New("cart: invalid instance")
	ErrItemNotFound      = errors.New("cart: item not found")
	ErrNotDynamic        = errors.New("cart: condition carries no rules")
)

// DefaultInstance is the instance name used when callers pass none.
const DefaultInstance = "default"

// Cart is the aggregate: (identifier, instance) addressing key, line items,
// cart-level conditions, metadata. Each request builds its own Cart from a
// fresh storage read; the aggregate is never shared across requests.
type Cart struct {
	identifier string
	instance   string

	items map[string]*Item

	// conditions holds the active cart-level conditions (folded into
	// totals). dynamic holds registered dynamic conditions; evaluation
	// toggles their rules-stripped clones in and out of the active sets.
	conditions *condition.Collection
	dynamic    *condition.Collection

	metadata map[string]any

	// version mirrors the storage record's counter when the backend tracks
	// one; informational on the aggregate.
	version int64

	// allowStacking controls whether successive percentage conditions
	// compound on the shrinking value or keep applying to the original base.
	allowStacking bool
}

// New builds an empty cart for (identifier, instance).
func New(identifier, instance string) (*Cart, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, ErrInvalidIdentifier
	}
	inst := strings.TrimSpace(instance)
	if inst == "" {
		inst = DefaultInstance
	}

	conds, _ := condition.NewCollection()
	dyn, _ := condition.NewCollection()
	return &Cart{
		identifier:    id,
		instance:      inst,
		items:         map[string]*Item{},
		conditions:    conds,
		dynamic:       dyn,
		metadata:      map[string]any{},
		allowStacking: true,
	}, nil
}

// SetAllowStacking configures percentage stacking (see config surface).
func (c *Cart) SetAllowStacking(allow bool) { c.allowStacking = allow }

// SetVersion records the storage version the cart was loaded at.
func (c *Cart) SetVersion(v int64) { c.version = v }
func (c *Cart) Version() int64 { return c.version }

// ----------------------------
// Accessors (also the condition.CartView surface)
// ----------------------------

func (c *Cart) Identifier() string { return c.identifier }
func (c *Cart) Instance() string { return c.instance }

func (c *Cart) ItemCount() int { return len(c.items) }

func (c *Cart) TotalQuantity() int {
	total := 0
	for _, it := range c.items {
		total += it.quantity
	}
	return total
}

func (c *Cart) MetadataValue(key string) (any, bool) {
	v, ok := c.metadata[strings.TrimSpace(key)]
	return v, ok
}

func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

// Item returns a line item by id.
func (c *Cart) Item(id string) (*Item, bool) {
	it, ok := c.items[strings.TrimSpace(id)]
	return it, ok
}

// Items returns the line items sorted by id (deterministic iteration).
func (c *Cart) Items() []*Item {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.items[id])
	}
	return out
}

// Conditions returns a clone of the active cart-level conditions.
func (c *Cart) Conditions() *condition.Collection { return c.conditions.Clone() }

// DynamicConditions returns the registered dynamic conditions in
// registration order.
func (c *Cart) DynamicConditions() []*condition.Condition { return c.dynamic.All() }

// Metadata returns a copy of the metadata map.
func (c *Cart) Metadata() map[string]any {
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// ----------------------------
// Item mutation
// ----------------------------

// AddItem inserts a line item. If the id already exists the quantities are
// summed and the stored item is replaced. The bool reports whether an
// existing item was updated (true) or a new one added (false).
func (c *Cart) AddItem(it *Item) (*Item, bool, error) {
	if it == nil {
		return nil, false, ErrItemNotFound
	}

	existing, ok := c.items[it.id]
	if !ok {
		c.items[it.id] = it
		return it, false, nil
	}

	merged, err := existing.WithQuantity(existing.quantity + it.quantity)
	if err != nil {
		return nil, false, err
	}
	c.items[it.id] = merged
	return merged, true, nil
}

// SetItemQuantity sets the quantity for an item id. Quantity <= 0 removes
// the item; the bool reports removal. Unknown id is ErrItemNotFound.
func (c *Cart) SetItemQuantity(id string, quantity int) (*Item, bool, error) {
	iid := strings.TrimSpace(id)
	existing, ok := c.items[iid]
	if !ok {
		return nil, false, ErrItemNotFound
	}

	if quantity <= 0 {
		delete(c.items, iid)
		return existing, true, nil
	}

	replaced, err := existing.WithQuantity(quantity)
	if err != nil {
		return nil, false, err
	}
	c.items[iid] = replaced
	return replaced, false, nil
}

// ReplaceItem swaps a line item wholesale (price/attribute updates).
func (c *Cart) ReplaceItem(it *Item) (*Item, error) {
	if it == nil {
		return nil, ErrItemNotFound
	}
	if _, ok := c.items[it.id]; !ok {
		return nil, ErrItemNotFound
	}
	c.items[it.id] = it
	return it, nil
}

// RemoveItem deletes a line item. Returns the removed item and false when
// nothing matched.
func (c *Cart) RemoveItem(id string) (*Item, bool) {
	iid := strings.TrimSpace(id)
	it, ok := c.items[iid]
	if !ok {
		return nil, false
	}
	delete(c.items, iid)
	return it, true
}

// putItem installs an item without add semantics. Used by loading and merge.
func (c *Cart) putItem(it *Item) {
	if it != nil {
		c.items[it.id] = it
	}
}

// ----------------------------
// Condition mutation
// ----------------------------

// AddCondition registers a cart-level condition. Static conditions must
// target subtotal or total; dynamic conditions go through the dynamic set
// and enter the active sets only when their rules pass.
func (c *Cart) AddCondition(cond *condition.Condition) error {
	if cond == nil {
		return condition.ErrNilCondition
	}

	if cond.IsDynamic() {
		return c.dynamic.Put(cond)
	}

	if cond.Target() == condition.TargetItem {
		return condition.ErrInvalidTarget
	}
	return c.conditions.Put(cond)
}

// RemoveCondition removes a cart-level condition by name, from both the
// active set and the dynamic registrations.
func (c *Cart) RemoveCondition(name string) bool {
	active := c.conditions.Remove(name)
	registered := c.dynamic.Remove(name)
	return active || registered
}

// RemoveConditionsByType removes every cart-level condition of the type.
// Returns false when none matched.
func (c *Cart) RemoveConditionsByType(condType string) bool {
	active := c.conditions.RemoveByType(condType)
	registered := c.dynamic.RemoveByType(condType)
	return active || registered
}

// CountConditionsByType counts active plus registered dynamic conditions of
// a type (used for category caps, e.g. vouchers).
func (c *Cart) CountConditionsByType(condType string) int {
	n := c.conditions.CountByType(condType)
	for _, d := range c.dynamic.ByType(condType) {
		// an active dynamic condition is represented in both sets by the
		// rules-stripped clone under the same name
		if !c.conditions.Has(d.Name()) {
			n++
		}
	}
	return n
}

// AddItemCondition attaches a condition to a line item.
func (c *Cart) AddItemCondition(itemID string, cond *condition.Condition) (*Item, error) {
	it, ok := c.items[strings.TrimSpace(itemID)]
	if !ok {
		return nil, ErrItemNotFound
	}
	replaced, err := it.WithCondition(cond)
	if err != nil {
		return nil, err
	}
	c.items[replaced.id] = replaced
	return replaced, nil
}

// RemoveItemCondition removes a named condition from a line item. Returns
// false when the item or the condition does not exist.
func (c *Cart) RemoveItemCondition(itemID, name string) (*Item, bool) {
	it, ok := c.items[strings.TrimSpace(itemID)]
	if !ok {
		return nil, false
	}
	replaced, removed := it.WithoutCondition(name)
	if !removed {
		return nil, false
	}
	c.items[replaced.id] = replaced
	return replaced, true
}

// ----------------------------
// Metadata
// ----------------------------

func (c *Cart) SetMetadata(key string, value any) {
	k := strings.TrimSpace(key)
	if k == "" {
		return
	}
	c.metadata[k] = value
}

func (c *Cart) RemoveMetadata(key string) bool {
	k := strings.TrimSpace(key)
	if _, ok := c.metadata[k]; !ok {
		return false
	}
	delete(c.metadata, k)
	return true
}

// Clear removes all items and conditions but keeps identifier, instance and
// metadata.
func (c *Cart) Clear() {
	c.items = map[string]*Item{}
	c.conditions.Clear()
	c.dynamic.Clear()
}

// ----------------------------
// Totals
// ----------------------------

// Subtotal is the sum of unit price x quantity over all items, ignoring
// every condition.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, it := range c.items {
		total += it.BaseTotal()
	}
	return total
}

// ItemsTotal is the sum of per-item totals with item conditions applied.
func (c *Cart) ItemsTotal() int64 {
	var total int64
	for _, it := range c.items {
		total += it.Total(c.allowStacking)
	}
	return total
}

// Total folds subtotal-target conditions over the summed item totals, then
// total-target conditions over that intermediate value.
func (c *Cart) Total() int64 {
	intermediate := c.foldTarget(c.ItemsTotal(), condition.TargetSubtotal)
	return c.foldTarget(intermediate, condition.TargetTotal)
}

func (c *Cart) foldTarget(base int64, target condition.Target) int64 {
	var conds []*condition.Condition
	for _, cond := range c.conditions.Sorted() {
		if cond.Target() == target {
			conds = append(conds, cond)
		}
	}
	return foldConditions(base, conds, c.allowStacking)
}

// Savings is base value minus value with conditions applied, clamped at
// zero (charges can exceed discounts).
func (c *Cart) Savings() int64 {
	s := c.Subtotal() - c.Total()
	if s < 0 {
		return 0
	}
	return s
}

// ----------------------------
// Dynamic condition evaluation
// ----------------------------

// DynamicChange records one activation flip produced by a re-evaluation
// pass. ItemID is empty for cart-level conditions.
type DynamicChange struct {
	Condition *condition.Condition
	ItemID    string
	Activated bool
	Reason    string
}

// ReevaluateDynamic re-runs every registered dynamic condition against the
// current cart state and toggles rules-stripped clones in the active sets.
// Runs after every item or condition mutation.
//
// The WithoutRules clone is identity-cached, so an already-active condition
// is recognized by pointer and not re-registered.
func (c *Cart) ReevaluateDynamic(ev *condition.Evaluator, operation string) []DynamicChange {
	if ev == nil || c.dynamic.IsEmpty() {
		return nil
	}

	var changes []DynamicChange
	for _, d := range c.dynamic.All() {
		if d.Target() == condition.TargetItem {
			for _, it := range c.Items() {
				changes = c.toggleItemCondition(changes, ev, operation, d, it)
			}
			continue
		}
		changes = c.toggleCartCondition(changes, ev, operation, d)
	}
	return changes
}

func (c *Cart) toggleCartCondition(changes []DynamicChange, ev *condition.Evaluator, operation string, d *condition.Condition) []DynamicChange {
	active := ev.ShouldApply(operation, d, c, nil)
	static := d.WithoutRules()
	current, present := c.conditions.Get(d.Name())

	switch {
	case active && (!present || current != static):
		_ = c.conditions.Put(static)
		changes = append(changes, DynamicChange{Condition: static, Activated: true})
	case !active && present:
		c.conditions.Remove(d.Name())
		changes = append(changes, DynamicChange{Condition: static, Activated: false, Reason: "rules no longer pass"})
	}
	return changes
}

func (c *Cart) toggleItemCondition(changes []DynamicChange, ev *condition.Evaluator, operation string, d *condition.Condition, it *Item) []DynamicChange {
	active := ev.ShouldApply(operation, d, c, it)
	static := d.WithoutRules()
	current, present := it.conditions.Get(d.Name())

	switch {
	case active && (!present || current != static):
		replaced, err := it.WithCondition(static)
		if err != nil {
			return changes
		}
		c.items[replaced.id] = replaced
		changes = append(changes, DynamicChange{Condition: static, ItemID: it.id, Activated: true})
	case !active && present:
		replaced, _ := it.WithoutCondition(d.Name())
		c.items[replaced.id] = replaced
		changes = append(changes, DynamicChange{Condition: static, ItemID: it.id, Activated: false, Reason: "rules no longer pass"})
	}
	return changes
}
