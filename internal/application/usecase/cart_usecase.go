// internal/application/usecase/cart_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"

	"cartengine/internal/application/event"
)

var (
	ErrCartInvalidArgument   = errors.New("cart_usecase: invalid argument")
	ErrCartNotFound          = errors.New("cart_usecase: not found")
	ErrVoucherNotFound       = errors.New("cart_usecase: voucher not found")
	ErrVoucherAlreadyApplied = errors.New("cart_usecase: voucher already applied")
	ErrConditionCapExceeded  = errors.New("cart_usecase: condition cap exceeded")
)

// ConditionTypeVoucher is the condition category the voucher cap applies to.
const ConditionTypeVoucher = "voucher"

// CartOptions carries the calculation/config surface into the usecase.
type CartOptions struct {
	// AllowStacking: successive percentage conditions compound on the
	// shrinking base (true) or keep applying to the original base (false).
	AllowStacking bool
	// ConditionCaps limits how many conditions of a category one cart can
	// carry (e.g. {"voucher": 1}). Zero/absent means unlimited.
	ConditionCaps map[string]int
}

// CartUsecase coordinates cart mutations: storage read, mutation, dynamic
// condition re-evaluation, persistence, event dispatch.
type CartUsecase struct {
	storage    cartdom.Storage
	registry   *condition.Registry
	evaluator  *condition.Evaluator
	dispatcher *event.Dispatcher
	opts       CartOptions
}

func NewCartUsecase(storage cartdom.Storage, registry *condition.Registry, evaluator *condition.Evaluator, dispatcher *event.Dispatcher, opts CartOptions) *CartUsecase {
	if registry == nil {
		registry = condition.NewRegistry()
	}
	if evaluator == nil {
		evaluator = condition.NewEvaluator(nil)
	}
	if dispatcher == nil {
		dispatcher = event.NewDispatcher()
	}
	return &CartUsecase{
		storage:    storage,
		registry:   registry,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Registry exposes the rule factory registry so callers can register
// predicate types before carts are loaded.
func (uc *CartUsecase) Registry() *condition.Registry { return uc.registry }

// ItemInput is the caller-facing shape for add-to-cart.
type ItemInput struct {
	ID              string
	Name            string
	Price           int64
	Quantity        int
	Attributes      map[string]any
	AssociatedModel string
}

// ----------------------------
// Reads
// ----------------------------

// GetCart loads the cart or returns ErrCartNotFound.
func (uc *CartUsecase) GetCart(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	id, inst, err := normalizeKey(identifier, instance)
	if err != nil {
		return nil, err
	}

	exists, err := uc.storage.Has(ctx, id, inst)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCartNotFound
	}
	return uc.load(ctx, id, inst)
}

// GetOrCreate loads the cart, or returns a fresh empty aggregate without
// persisting it (the first mutation persists and emits CartCreated).
func (uc *CartUsecase) GetOrCreate(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	c, err := uc.GetCart(ctx, identifier, instance)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}

	id, inst, _ := normalizeKey(identifier, instance)
	fresh, err := cartdom.New(id, inst)
	if err != nil {
		return nil, err
	}
	fresh.SetAllowStacking(uc.opts.AllowStacking)
	return fresh, nil
}

// ----------------------------
// Item operations
// ----------------------------

// AddItem adds a line item; an existing id gets its quantity summed.
func (uc *CartUsecase) AddItem(ctx context.Context, identifier, instance string, in ItemInput) (*cartdom.Cart, error) {
	item, err := buildItem(in)
	if err != nil {
		return nil, err
	}

	return uc.mutate(ctx, identifier, instance, "add_item", func(c *cartdom.Cart) ([]event.Event, error) {
		stored, updated, err := c.AddItem(item)
		if err != nil {
			return nil, err
		}
		if updated {
			return []event.Event{cartdom.ItemUpdated{Cart: c, Item: stored}}, nil
		}
		return []event.Event{cartdom.ItemAdded{Cart: c, Item: stored}}, nil
	})
}

// SetItemQuantity sets an item's quantity; <= 0 removes the item.
func (uc *CartUsecase) SetItemQuantity(ctx context.Context, identifier, instance, itemID string, quantity int) (*cartdom.Cart, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrCartInvalidArgument
	}

	return uc.mutate(ctx, identifier, instance, "set_item_quantity", func(c *cartdom.Cart) ([]event.Event, error) {
		item, removed, err := c.SetItemQuantity(itemID, quantity)
		if err != nil {
			return nil, err
		}
		if removed {
			return []event.Event{cartdom.ItemRemoved{Cart: c, Item: item}}, nil
		}
		return []event.Event{cartdom.ItemUpdated{Cart: c, Item: item}}, nil
	})
}

// RemoveItem deletes a line item; a missing id is a no-op.
func (uc *CartUsecase) RemoveItem(ctx context.Context, identifier, instance, itemID string) (*cartdom.Cart, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrCartInvalidArgument
	}

	return uc.mutate(ctx, identifier, instance, "remove_item", func(c *cartdom.Cart) ([]event.Event, error) {
		item, removed := c.RemoveItem(itemID)
		if !removed {
			return nil, nil
		}
		return []event.Event{cartdom.ItemRemoved{Cart: c, Item: item}}, nil
	})
}

// ClearCart removes all items and conditions but keeps the cart record
// addressable.
func (uc *CartUsecase) ClearCart(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	return uc.mutate(ctx, identifier, instance, "clear", func(c *cartdom.Cart) ([]event.Event, error) {
		c.Clear()
		return []event.Event{cartdom.CartCleared{Cart: c}}, nil
	})
}

// ----------------------------
// Condition operations
// ----------------------------

// AddCartCondition registers a cart-level condition, enforcing the
// per-category cap. Dynamic conditions enter the active set only when their
// rules pass; registering one never raises on rule failure.
func (uc *CartUsecase) AddCartCondition(ctx context.Context, identifier, instance string, cond *condition.Condition) (*cartdom.Cart, error) {
	if cond == nil {
		return nil, ErrCartInvalidArgument
	}

	return uc.mutate(ctx, identifier, instance, "add_condition", func(c *cartdom.Cart) ([]event.Event, error) {
		if err := uc.checkCap(c, cond); err != nil {
			return nil, err
		}
		if err := c.AddCondition(cond); err != nil {
			return nil, err
		}
		if cond.IsDynamic() {
			// activation events come from the re-evaluation pass
			return nil, nil
		}
		return []event.Event{cartdom.CartConditionAdded{Cart: c, Condition: cond}}, nil
	})
}

// RemoveCartCondition removes a cart-level condition by name. The bool
// reports whether anything matched.
func (uc *CartUsecase) RemoveCartCondition(ctx context.Context, identifier, instance, name string) (*cartdom.Cart, bool, error) {
	removed := false
	c, err := uc.mutate(ctx, identifier, instance, "remove_condition", func(c *cartdom.Cart) ([]event.Event, error) {
		cond, _ := c.Conditions().Get(name)
		removed = c.RemoveCondition(name)
		if !removed {
			return nil, nil
		}
		return []event.Event{cartdom.CartConditionRemoved{Cart: c, Condition: cond, Reason: "removed by caller"}}, nil
	})
	return c, removed, err
}

// RemoveConditionsByType removes every cart-level condition of a type.
func (uc *CartUsecase) RemoveConditionsByType(ctx context.Context, identifier, instance, condType string) (*cartdom.Cart, bool, error) {
	removed := false
	c, err := uc.mutate(ctx, identifier, instance, "remove_conditions_by_type", func(c *cartdom.Cart) ([]event.Event, error) {
		var evs []event.Event
		for _, cond := range c.Conditions().ByType(condType) {
			evs = append(evs, cartdom.CartConditionRemoved{Cart: c, Condition: cond, Reason: "removed by type"})
		}
		removed = c.RemoveConditionsByType(condType)
		if !removed {
			return nil, nil
		}
		return evs, nil
	})
	return c, removed, err
}

// AddItemCondition attaches a condition to one line item.
func (uc *CartUsecase) AddItemCondition(ctx context.Context, identifier, instance, itemID string, cond *condition.Condition) (*cartdom.Cart, error) {
	if cond == nil {
		return nil, ErrCartInvalidArgument
	}

	return uc.mutate(ctx, identifier, instance, "add_item_condition", func(c *cartdom.Cart) ([]event.Event, error) {
		item, err := c.AddItemCondition(itemID, cond)
		if err != nil {
			return nil, err
		}
		return []event.Event{cartdom.ItemConditionAdded{Cart: c, Item: item, Condition: cond}}, nil
	})
}

// RemoveItemCondition removes a named condition from a line item. Returns
// false when the item or the condition does not exist.
func (uc *CartUsecase) RemoveItemCondition(ctx context.Context, identifier, instance, itemID, name string) (*cartdom.Cart, bool, error) {
	removed := false
	c, err := uc.mutate(ctx, identifier, instance, "remove_item_condition", func(c *cartdom.Cart) ([]event.Event, error) {
		var cond *condition.Condition
		if it, ok := c.Item(itemID); ok {
			cond, _ = it.Conditions().Get(name)
		}
		item, ok := c.RemoveItemCondition(itemID, name)
		removed = ok
		if !ok {
			return nil, nil
		}
		return []event.Event{cartdom.ItemConditionRemoved{Cart: c, Item: item, Condition: cond}}, nil
	})
	return c, removed, err
}

// ----------------------------
// Vouchers
// ----------------------------

// ApplyVoucher adds a voucher-category condition. Re-applying the same code
// is ErrVoucherAlreadyApplied; exceeding the voucher cap is
// ErrVoucherCapExceeded via ErrConditionCapExceeded.
func (uc *CartUsecase) ApplyVoucher(ctx context.Context, identifier, instance string, voucher *condition.Condition) (*cartdom.Cart, error) {
	if voucher == nil || voucher.Type() != ConditionTypeVoucher {
		return nil, ErrCartInvalidArgument
	}

	return uc.mutate(ctx, identifier, instance, "apply_voucher", func(c *cartdom.Cart) ([]event.Event, error) {
		if c.Conditions().Has(voucher.Name()) {
			return nil, fmt.Errorf("%w: %s", ErrVoucherAlreadyApplied, voucher.Name())
		}
		for _, d := range c.DynamicConditions() {
			if d.Name() == voucher.Name() {
				return nil, fmt.Errorf("%w: %s", ErrVoucherAlreadyApplied, voucher.Name())
			}
		}
		if err := uc.checkCap(c, voucher); err != nil {
			return nil, err
		}
		if err := c.AddCondition(voucher); err != nil {
			return nil, err
		}
		if voucher.IsDynamic() {
			return nil, nil
		}
		return []event.Event{cartdom.CartConditionAdded{Cart: c, Condition: voucher}}, nil
	})
}

// RemoveVoucher removes a voucher by code. Absent code is ErrVoucherNotFound.
func (uc *CartUsecase) RemoveVoucher(ctx context.Context, identifier, instance, code string) (*cartdom.Cart, error) {
	return uc.mutate(ctx, identifier, instance, "remove_voucher", func(c *cartdom.Cart) ([]event.Event, error) {
		cond, ok := c.Conditions().Get(code)
		if !ok || cond.Type() != ConditionTypeVoucher {
			return nil, fmt.Errorf("%w: %s", ErrVoucherNotFound, strings.TrimSpace(code))
		}
		c.RemoveCondition(code)
		return []event.Event{cartdom.CartConditionRemoved{Cart: c, Condition: cond, Reason: "voucher removed"}}, nil
	})
}

// ----------------------------
// Metadata
// ----------------------------

func (uc *CartUsecase) SetMetadata(ctx context.Context, identifier, instance, key string, value any) (*cartdom.Cart, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrCartInvalidArgument
	}
	return uc.mutate(ctx, identifier, instance, "set_metadata", func(c *cartdom.Cart) ([]event.Event, error) {
		c.SetMetadata(key, value)
		return nil, nil
	})
}

// ----------------------------
// Internals
// ----------------------------

func normalizeKey(identifier, instance string) (string, string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", "", ErrCartInvalidArgument
	}
	inst := strings.TrimSpace(instance)
	if inst == "" {
		inst = cartdom.DefaultInstance
	}
	return id, inst, nil
}

func buildItem(in ItemInput) (*cartdom.Item, error) {
	item, err := cartdom.NewItem(in.ID, in.Name, in.Price, in.Quantity)
	if err != nil {
		return nil, err
	}
	if len(in.Attributes) > 0 {
		item = item.WithAttributes(in.Attributes)
	}
	if strings.TrimSpace(in.AssociatedModel) != "" {
		item = item.WithAssociatedModel(in.AssociatedModel)
	}
	return item, nil
}

func (uc *CartUsecase) checkCap(c *cartdom.Cart, cond *condition.Condition) error {
	limit, ok := uc.opts.ConditionCaps[cond.Type()]
	if !ok || limit <= 0 {
		return nil
	}
	// replacing an already-present name does not consume a slot; the name
	// may live in the active set or only in the dynamic registrations
	if c.Conditions().Has(cond.Name()) {
		return nil
	}
	for _, d := range c.DynamicConditions() {
		if d.Name() == cond.Name() {
			return nil
		}
	}
	if c.CountConditionsByType(cond.Type()) >= limit {
		return fmt.Errorf("%w: type=%s cap=%d", ErrConditionCapExceeded, cond.Type(), limit)
	}
	return nil
}

func (uc *CartUsecase) load(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	items, err := uc.storage.GetItems(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	conds, err := uc.storage.GetConditions(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	meta, err := uc.storage.GetMetadata(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}

	c, err := cartdom.FromRecords(identifier, instance, items, conds, meta, cartdom.LoadOptions{
		AllowStacking: uc.opts.AllowStacking,
		Registry:      uc.registry,
	})
	if err != nil {
		return nil, err
	}

	if vs, ok := uc.storage.(cartdom.Versioned); ok {
		if v, err := vs.Version(ctx, identifier, instance); err == nil {
			c.SetVersion(v)
		}
	}
	return c, nil
}

func (uc *CartUsecase) save(ctx context.Context, c *cartdom.Cart) error {
	items, conds, meta := c.ToRecords()

	if c.Version() > 0 {
		ctx = cartdom.WithExpectedVersion(ctx, c.Version())
	}

	write := func(ctx context.Context) error {
		if err := uc.storage.PutItems(ctx, c.Identifier(), c.Instance(), items); err != nil {
			return err
		}
		if err := uc.storage.PutConditions(ctx, c.Identifier(), c.Instance(), conds); err != nil {
			return err
		}
		return uc.storage.PutMetadata(ctx, c.Identifier(), c.Instance(), meta)
	}

	if txs, ok := uc.storage.(cartdom.Transactional); ok {
		return txs.WithinTransaction(ctx, write)
	}
	return write(ctx)
}

// mutate is the shared read-modify-write skeleton: load (or start) the
// aggregate, run the mutation, re-evaluate dynamic conditions, persist,
// dispatch. Transactional backends run the whole cycle in one
// transaction, with the record locked before the first read so concurrent
// mutations of the same cart serialize instead of losing updates.
// Re-entrant calls (a listener mutating the cart it reacts to) run the
// same path without dispatching.
func (uc *CartUsecase) mutate(ctx context.Context, identifier, instance, operation string, fn func(c *cartdom.Cart) ([]event.Event, error)) (*cartdom.Cart, error) {
	id, inst, err := normalizeKey(identifier, instance)
	if err != nil {
		return nil, err
	}

	var (
		c       *cartdom.Cart
		evs     []event.Event
		changes []cartdom.DynamicChange
		existed bool
	)

	cycle := func(ctx context.Context) error {
		var err error
		existed, err = uc.storage.Has(ctx, id, inst)
		if err != nil {
			return err
		}

		if existed {
			c, err = uc.load(ctx, id, inst)
		} else {
			c, err = cartdom.New(id, inst)
			if err == nil {
				c.SetAllowStacking(uc.opts.AllowStacking)
			}
		}
		if err != nil {
			return err
		}

		evs, err = fn(c)
		if err != nil {
			return err
		}

		changes = c.ReevaluateDynamic(uc.evaluator, operation)
		return uc.save(ctx, c)
	}

	if txs, ok := uc.storage.(cartdom.Transactional); ok {
		err = txs.WithinTransaction(ctx, func(tctx context.Context) error {
			if lk, ok := uc.storage.(cartdom.Locking); ok {
				if err := lk.Lock(tctx, id, inst); err != nil {
					return err
				}
			}
			return cycle(tctx)
		})
	} else {
		err = cycle(ctx)
	}
	if err != nil {
		return nil, err
	}

	if mutationInProgress(ctx) {
		return c, nil
	}
	dctx := withMutationInProgress(ctx)

	if !existed {
		uc.dispatcher.Dispatch(dctx, cartdom.CartCreated{Cart: c})
	}
	for _, ev := range evs {
		uc.dispatcher.Dispatch(dctx, ev)
	}
	uc.dispatchDynamicChanges(dctx, c, changes)

	return c, nil
}

func (uc *CartUsecase) dispatchDynamicChanges(ctx context.Context, c *cartdom.Cart, changes []cartdom.DynamicChange) {
	for _, ch := range changes {
		switch {
		case ch.ItemID != "" && ch.Activated:
			item, _ := c.Item(ch.ItemID)
			uc.dispatcher.Dispatch(ctx, cartdom.ItemConditionAdded{Cart: c, Item: item, Condition: ch.Condition})
		case ch.ItemID != "" && !ch.Activated:
			item, _ := c.Item(ch.ItemID)
			uc.dispatcher.Dispatch(ctx, cartdom.ItemConditionRemoved{Cart: c, Item: item, Condition: ch.Condition})
		case ch.Activated:
			uc.dispatcher.Dispatch(ctx, cartdom.CartConditionAdded{Cart: c, Condition: ch.Condition})
		default:
			uc.dispatcher.Dispatch(ctx, cartdom.CartConditionRemoved{Cart: c, Condition: ch.Condition, Reason: ch.Reason})
		}
	}
}
