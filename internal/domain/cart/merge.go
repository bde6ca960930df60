// internal/domain/cart/merge.go
package cart

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// MergeStrategy is the policy for reconciling conflicting items when
// combining two carts.
type MergeStrategy string

const (
	MergeAddQuantities       MergeStrategy = "add_quantities"
	MergeKeepHighestQuantity MergeStrategy = "keep_highest_quantity"
	MergeKeepUserCart        MergeStrategy = "keep_user_cart"
	MergeReplaceWithGuest    MergeStrategy = "replace_with_guest"
)

var ErrInvalidMergeStrategy = errors.New("cart: invalid merge strategy")

// ParseMergeStrategy validates a configured strategy string.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(strings.TrimSpace(s)) {
	case MergeAddQuantities:
		return MergeAddQuantities, nil
	case MergeKeepHighestQuantity:
		return MergeKeepHighestQuantity, nil
	case MergeKeepUserCart:
		return MergeKeepUserCart, nil
	case MergeReplaceWithGuest:
		return MergeReplaceWithGuest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMergeStrategy, s)
	}
}

// MergeOutcome summarizes an item-level merge.
type MergeOutcome struct {
	// ItemsMerged counts the source items incorporated into the target
	// (carried over or combined).
	ItemsMerged int
	// HadConflicts reports whether any item id existed in both carts with
	// different quantity or attributes.
	HadConflicts bool
}

// MergeFrom reconciles the source cart's items into the target (receiver)
// under the strategy. Non-conflicting items, present in only one cart, are
// always carried over unchanged. The source cart is only borrowed; it is
// never mutated or retained.
func (c *Cart) MergeFrom(source *Cart, strategy MergeStrategy) (MergeOutcome, error) {
	if _, err := ParseMergeStrategy(string(strategy)); err != nil {
		return MergeOutcome{}, err
	}
	if source == nil {
		return MergeOutcome{}, nil
	}

	out := MergeOutcome{}
	for _, srcItem := range source.Items() {
		tgtItem, inBoth := c.items[srcItem.id]
		if !inBoth {
			c.putItem(srcItem)
			out.ItemsMerged++
			continue
		}

		if itemsConflict(tgtItem, srcItem) {
			out.HadConflicts = true
		}

		switch strategy {
		case MergeAddQuantities:
			merged, err := tgtItem.WithQuantity(tgtItem.quantity + srcItem.quantity)
			if err != nil {
				return out, err
			}
			c.putItem(merged)
			out.ItemsMerged++
		case MergeKeepHighestQuantity:
			if srcItem.quantity > tgtItem.quantity {
				c.putItem(srcItem)
				out.ItemsMerged++
			}
		case MergeKeepUserCart:
			// target wins; the conflicting source item is discarded
		case MergeReplaceWithGuest:
			c.putItem(srcItem)
			out.ItemsMerged++
		}
	}
	return out, nil
}

// itemsConflict reports whether the same item id diverges in quantity or
// attributes between the two carts.
func itemsConflict(a, b *Item) bool {
	if a.quantity != b.quantity {
		return true
	}
	return !reflect.DeepEqual(a.Attributes(), b.Attributes())
}
