// internal/domain/cart/item.go
package cart

import (
	"errors"
	"strings"

	"cartengine/internal/domain/condition"
)

var (
	ErrInvalidItemID       = errors.New("cart: invalid item id")
	ErrInvalidItemName     = errors.New("cart: invalid item name")
	ErrInvalidItemPrice    = errors.New("cart: invalid item price")
	ErrInvalidItemQuantity = errors.New("cart: invalid item quantity")
)

// Item is one immutable line item. Every mutation produces a replacement
// instance; the cart swaps items wholesale.
type Item struct {
	id              string
	name            string
	price           int64 // unit price in minor units, >= 0
	quantity        int   // >= 1
	attributes      map[string]any
	conditions      *condition.Collection
	associatedModel string // optional external reference (product model id etc.)
}

// NewItem validates and builds a line item.
func NewItem(id, name string, price int64, quantity int) (*Item, error) {
	iid := strings.TrimSpace(id)
	if iid == "" {
		return nil, ErrInvalidItemID
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return nil, ErrInvalidItemName
	}
	if price < 0 {
		return nil, ErrInvalidItemPrice
	}
	if quantity < 1 {
		return nil, ErrInvalidItemQuantity
	}

	col, _ := condition.NewCollection()
	return &Item{
		id:         iid,
		name:       n,
		price:      price,
		quantity:   quantity,
		conditions: col,
	}, nil
}

// ----------------------------
// Accessors (also the condition.ItemView surface)
// ----------------------------

func (it *Item) ID() string { return it.id }
func (it *Item) Name() string { return it.name }
func (it *Item) UnitPrice() int64 { return it.price }
func (it *Item) Quantity() int { return it.quantity }
func (it *Item) AssociatedModel() string { return it.associatedModel }

func (it *Item) AttributeValue(key string) (any, bool) {
	v, ok := it.attributes[strings.TrimSpace(key)]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (it *Item) Attributes() map[string]any {
	out := make(map[string]any, len(it.attributes))
	for k, v := range it.attributes {
		out[k] = v
	}
	return out
}

// Conditions returns the item's condition collection. The collection is
// owned by the item; callers outside the package receive a clone.
func (it *Item) Conditions() *condition.Collection {
	return it.conditions.Clone()
}

// ----------------------------
// Derivation
// ----------------------------

func (it *Item) clone() *Item {
	cl := &Item{
		id:              it.id,
		name:            it.name,
		price:           it.price,
		quantity:        it.quantity,
		conditions:      it.conditions.Clone(),
		associatedModel: it.associatedModel,
	}
	if len(it.attributes) > 0 {
		cl.attributes = make(map[string]any, len(it.attributes))
		for k, v := range it.attributes {
			cl.attributes[k] = v
		}
	}
	return cl
}

// WithQuantity returns a replacement with quantity set.
func (it *Item) WithQuantity(quantity int) (*Item, error) {
	if quantity < 1 {
		return nil, ErrInvalidItemQuantity
	}
	cl := it.clone()
	cl.quantity = quantity
	return cl, nil
}

// WithPrice returns a replacement with the unit price set.
func (it *Item) WithPrice(price int64) (*Item, error) {
	if price < 0 {
		return nil, ErrInvalidItemPrice
	}
	cl := it.clone()
	cl.price = price
	return cl, nil
}

// WithAttributes returns a replacement with the attribute map replaced.
func (it *Item) WithAttributes(attrs map[string]any) *Item {
	cl := it.clone()
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

// WithAssociatedModel returns a replacement carrying an external reference.
func (it *Item) WithAssociatedModel(ref string) *Item {
	cl := it.clone()
	cl.associatedModel = strings.TrimSpace(ref)
	return cl
}

// WithCondition returns a replacement with a per-item condition added.
// The condition must target "item".
func (it *Item) WithCondition(c *condition.Condition) (*Item, error) {
	if c == nil {
		return nil, condition.ErrNilCondition
	}
	if c.Target() != condition.TargetItem {
		return nil, condition.ErrInvalidTarget
	}
	cl := it.clone()
	if err := cl.conditions.Put(c); err != nil {
		return nil, err
	}
	return cl, nil
}

// WithoutCondition returns a replacement with the named condition removed.
// The bool reports whether anything was removed.
func (it *Item) WithoutCondition(name string) (*Item, bool) {
	if !it.conditions.Has(name) {
		return it, false
	}
	cl := it.clone()
	cl.conditions.Remove(name)
	return cl, true
}

// ----------------------------
// Pricing
// ----------------------------

// BaseTotal is unit price x quantity, ignoring conditions.
func (it *Item) BaseTotal() int64 {
	return it.price * int64(it.quantity)
}

// PriceWithConditions folds the item's conditions (order ascending, stable)
// over the unit price.
func (it *Item) PriceWithConditions(allowStacking bool) int64 {
	return foldConditions(it.price, it.conditions.Sorted(), allowStacking)
}

// Total is price-with-conditions x quantity.
func (it *Item) Total(allowStacking bool) int64 {
	return it.PriceWithConditions(allowStacking) * int64(it.quantity)
}

// foldConditions applies conditions in sequence. When stacking is disabled,
// percentage conditions keep applying to the original base instead of the
// running value.
func foldConditions(base int64, conds []*condition.Condition, allowStacking bool) int64 {
	current := base
	for _, c := range conds {
		if allowStacking {
			current = c.Apply(current)
		} else {
			current = c.ApplyOnOriginal(current, base)
		}
	}
	return current
}
