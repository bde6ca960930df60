// internal/domain/cart/events.go
package cart

import (
	"cartengine/internal/domain/condition"
)

// Domain events published at the core boundary. Out-of-scope listeners
// (admin sync, notifications, voucher bookkeeping) consume these; the core
// never depends on subscriber behavior.

type CartCreated struct {
	Cart *Cart
}

func (CartCreated) EventName() string { return "cart.created" }

type CartCleared struct {
	Cart *Cart
}

func (CartCleared) EventName() string { return "cart.cleared" }

type ItemAdded struct {
	Cart *Cart
	Item *Item
}

func (ItemAdded) EventName() string { return "cart.item_added" }

type ItemUpdated struct {
	Cart *Cart
	Item *Item
}

func (ItemUpdated) EventName() string { return "cart.item_updated" }

type ItemRemoved struct {
	Cart *Cart
	Item *Item
}

func (ItemRemoved) EventName() string { return "cart.item_removed" }

type CartConditionAdded struct {
	Cart      *Cart
	Condition *condition.Condition
}

func (CartConditionAdded) EventName() string { return "cart.condition_added" }

type CartConditionRemoved struct {
	Cart      *Cart
	Condition *condition.Condition
	Reason    string
}

func (CartConditionRemoved) EventName() string { return "cart.condition_removed" }

type ItemConditionAdded struct {
	Cart      *Cart
	Item      *Item
	Condition *condition.Condition
}

func (ItemConditionAdded) EventName() string { return "cart.item_condition_added" }

type ItemConditionRemoved struct {
	Cart      *Cart
	Item      *Item
	Condition *condition.Condition
}

func (ItemConditionRemoved) EventName() string { return "cart.item_condition_removed" }

// CartMerged reports a completed merge or takeover. The identifiers are the
// ORIGINAL source and target, captured before any re-keying, so cleanup
// listeners can locate the pre-merge records.
type CartMerged struct {
	TargetCart       *Cart
	SourceCart       *Cart
	TotalItemsMerged int
	Strategy         MergeStrategy
	HadConflicts     bool
	OriginalSource   string
	OriginalTarget   string
}

func (CartMerged) EventName() string { return "cart.merged" }
