// internal/application/usecase/cart_usecase_test.go
package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memstore "cartengine/internal/adapters/out/memory"
	"cartengine/internal/application/event"
	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

// eventRecorder captures every dispatched event name in order.
type eventRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *eventRecorder) listen(_ context.Context, ev event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, ev.Name)
}

func (r *eventRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.names...)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = nil
}

func newTestUsecase(t *testing.T, opts CartOptions) (*CartUsecase, *memstore.CartStorageMem, *event.Dispatcher, *eventRecorder) {
	t.Helper()
	storage := memstore.NewCartStorageMem()
	registry := condition.NewRegistry()
	require.NoError(t, condition.RegisterBuiltins(registry))
	dispatcher := event.NewDispatcher()
	rec := &eventRecorder{}
	dispatcher.SubscribeAll(rec.listen)

	uc := NewCartUsecase(storage, registry, condition.NewEvaluator(nil), dispatcher, opts)
	return uc, storage, dispatcher, rec
}

func TestCartUsecase_GetCart(t *testing.T) {
	ctx := context.Background()
	uc, _, _, _ := newTestUsecase(t, CartOptions{AllowStacking: true})

	_, err := uc.GetCart(ctx, "guest-1", "")
	assert.ErrorIs(t, err, ErrCartNotFound)

	_, err = uc.GetCart(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrCartInvalidArgument)
}

func TestCartUsecase_GetOrCreateDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	uc, storage, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	c, err := uc.GetOrCreate(ctx, "guest-1", "")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, cartdom.DefaultInstance, c.Instance())

	// browsing must not create a record or emit events
	ok, err := storage.Has(ctx, "guest-1", cartdom.DefaultInstance)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rec.recorded())
}

func TestCartUsecase_AddItem(t *testing.T) {
	ctx := context.Background()
	uc, storage, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	c, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2000, c.Total())

	// first mutation persists and announces the cart
	ok, err := storage.Has(ctx, "guest-1", cartdom.DefaultInstance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"cart.created", "cart.item_added"}, rec.recorded())

	rec.reset()
	c, err = uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 3})
	require.NoError(t, err)
	it, ok2 := c.Item("sku-1")
	require.True(t, ok2)
	assert.Equal(t, 5, it.Quantity())
	assert.Equal(t, []string{"cart.item_updated"}, rec.recorded())

	_, err = uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "", Name: "x", Price: 1, Quantity: 1})
	assert.ErrorIs(t, err, cartdom.ErrInvalidItemID)
}

func TestCartUsecase_PersistsAcrossLoads(t *testing.T) {
	ctx := context.Background()
	uc, _, _, _ := newTestUsecase(t, CartOptions{AllowStacking: true})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{
		ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 2,
		Attributes: map[string]any{"color": "red"},
	})
	require.NoError(t, err)

	loaded, err := uc.GetCart(ctx, "guest-1", "")
	require.NoError(t, err)
	it, ok := loaded.Item("sku-1")
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity())
	v, _ := it.AttributeValue("color")
	assert.Equal(t, "red", v)
}

func TestCartUsecase_RemoveItem(t *testing.T) {
	ctx := context.Background()
	uc, _, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	rec.reset()

	c, err := uc.RemoveItem(ctx, "guest-1", "", "sku-1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, []string{"cart.item_removed"}, rec.recorded())

	// removing a missing item is a quiet no-op
	rec.reset()
	_, err = uc.RemoveItem(ctx, "guest-1", "", "sku-1")
	require.NoError(t, err)
	assert.Empty(t, rec.recorded())

	_, err = uc.RemoveItem(ctx, "guest-1", "", "  ")
	assert.ErrorIs(t, err, ErrCartInvalidArgument)
}

func TestCartUsecase_Conditions(t *testing.T) {
	ctx := context.Background()
	uc, _, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	rec.reset()

	sale, err := condition.New("sale", "discount", condition.TargetTotal, "-10%")
	require.NoError(t, err)
	c, err := uc.AddCartCondition(ctx, "guest-1", "", sale)
	require.NoError(t, err)
	assert.EqualValues(t, 900, c.Total())
	assert.Equal(t, []string{"cart.condition_added"}, rec.recorded())

	rec.reset()
	c, removed, err := uc.RemoveCartCondition(ctx, "guest-1", "", "sale")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.EqualValues(t, 1000, c.Total())
	assert.Equal(t, []string{"cart.condition_removed"}, rec.recorded())

	_, removed, err = uc.RemoveCartCondition(ctx, "guest-1", "", "sale")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCartUsecase_Vouchers(t *testing.T) {
	ctx := context.Background()
	uc, _, _, _ := newTestUsecase(t, CartOptions{
		AllowStacking: true,
		ConditionCaps: map[string]int{ConditionTypeVoucher: 1},
	})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)

	summer, err := condition.New("SUMMER", ConditionTypeVoucher, condition.TargetTotal, "-100")
	require.NoError(t, err)
	c, err := uc.ApplyVoucher(ctx, "guest-1", "", summer)
	require.NoError(t, err)
	assert.EqualValues(t, 900, c.Total())

	t.Run("same code twice", func(t *testing.T) {
		_, err := uc.ApplyVoucher(ctx, "guest-1", "", summer)
		assert.ErrorIs(t, err, ErrVoucherAlreadyApplied)
	})

	t.Run("cap enforced", func(t *testing.T) {
		winter, err := condition.New("WINTER", ConditionTypeVoucher, condition.TargetTotal, "-50")
		require.NoError(t, err)
		_, err = uc.ApplyVoucher(ctx, "guest-1", "", winter)
		assert.ErrorIs(t, err, ErrConditionCapExceeded)
	})

	t.Run("non-voucher condition rejected", func(t *testing.T) {
		plain, err := condition.New("not-a-voucher", "discount", condition.TargetTotal, "-1")
		require.NoError(t, err)
		_, err = uc.ApplyVoucher(ctx, "guest-1", "", plain)
		assert.ErrorIs(t, err, ErrCartInvalidArgument)
	})

	t.Run("remove frees the slot", func(t *testing.T) {
		c, err := uc.RemoveVoucher(ctx, "guest-1", "", "SUMMER")
		require.NoError(t, err)
		assert.EqualValues(t, 1000, c.Total())

		_, err = uc.RemoveVoucher(ctx, "guest-1", "", "SUMMER")
		assert.ErrorIs(t, err, ErrVoucherNotFound)

		winter, err := condition.New("WINTER", ConditionTypeVoucher, condition.TargetTotal, "-50")
		require.NoError(t, err)
		_, err = uc.ApplyVoucher(ctx, "guest-1", "", winter)
		require.NoError(t, err)
	})
}

func TestCartUsecase_DynamicConditionEvents(t *testing.T) {
	ctx := context.Background()
	uc, _, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	base, err := condition.New("big-spender", "discount", condition.TargetTotal, "-10%")
	require.NoError(t, err)
	dyn, err := uc.Registry().Attach(base, condition.FactoryMinSubtotal, condition.RuleContext{"amount": int64(5000)})
	require.NoError(t, err)

	// registering below the threshold emits nothing
	c, err := uc.AddCartCondition(ctx, "guest-1", "", dyn)
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Total())
	assert.Equal(t, []string{"cart.created"}, rec.recorded())

	rec.reset()
	c, err = uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 6})
	require.NoError(t, err)
	assert.EqualValues(t, 5400, c.Total())
	assert.Equal(t, []string{"cart.item_added", "cart.condition_added"}, rec.recorded())

	// dropping under the threshold removes it again
	rec.reset()
	c, err = uc.SetItemQuantity(ctx, "guest-1", "", "sku-1", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, c.Total())
	assert.Equal(t, []string{"cart.item_updated", "cart.condition_removed"}, rec.recorded())

	// the registration survives a storage round trip
	loaded, err := uc.GetCart(ctx, "guest-1", "")
	require.NoError(t, err)
	assert.Len(t, loaded.DynamicConditions(), 1)
}

func TestCartUsecase_ListenerReentrancy(t *testing.T) {
	ctx := context.Background()
	uc, _, dispatcher, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	// a listener reacting to item_added mutates the same cart; the nested
	// mutation must persist without dispatching again
	dispatcher.Subscribe("cart.item_added", func(ctx context.Context, ev event.Envelope) {
		payload := ev.Payload.(cartdom.ItemAdded)
		_, err := uc.SetMetadata(ctx, payload.Cart.Identifier(), payload.Cart.Instance(), "lastItem", "sku-1")
		assert.NoError(t, err)
	})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"cart.created", "cart.item_added"}, rec.recorded())

	loaded, err := uc.GetCart(ctx, "guest-1", "")
	require.NoError(t, err)
	v, ok := loaded.MetadataValue("lastItem")
	require.True(t, ok)
	assert.Equal(t, "sku-1", v)
}

func TestCartUsecase_ClearCart(t *testing.T) {
	ctx := context.Background()
	uc, storage, _, rec := newTestUsecase(t, CartOptions{AllowStacking: true})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	_, err = uc.SetMetadata(ctx, "guest-1", "", "tier", "gold")
	require.NoError(t, err)
	rec.reset()

	c, err := uc.ClearCart(ctx, "guest-1", "")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, []string{"cart.cleared"}, rec.recorded())

	// the record stays addressable with its metadata
	ok, err := storage.Has(ctx, "guest-1", cartdom.DefaultInstance)
	require.NoError(t, err)
	assert.True(t, ok)
	loaded, err := uc.GetCart(ctx, "guest-1", "")
	require.NoError(t, err)
	v, ok := loaded.MetadataValue("tier")
	require.True(t, ok)
	assert.Equal(t, "gold", v)
}

func TestCartUsecase_CapAllowsReplacingDynamicRegistration(t *testing.T) {
	ctx := context.Background()
	uc, _, _, _ := newTestUsecase(t, CartOptions{
		AllowStacking: true,
		ConditionCaps: map[string]int{"promo": 1},
	})

	base, err := condition.New("big-spender", "promo", condition.TargetTotal, "-10%")
	require.NoError(t, err)
	dyn, err := uc.Registry().Attach(base, condition.FactoryMinSubtotal, condition.RuleContext{"amount": int64(5000)})
	require.NoError(t, err)

	// registered but inactive: the cart is empty, the rule does not pass
	c, err := uc.AddCartCondition(ctx, "guest-1", "", dyn)
	require.NoError(t, err)
	assert.Len(t, c.DynamicConditions(), 1)
	assert.False(t, c.Conditions().Has("big-spender"))

	// re-registering the same name replaces the registration instead of
	// consuming the cap slot
	replacement, err := condition.New("big-spender", "promo", condition.TargetTotal, "-20%")
	require.NoError(t, err)
	dyn2, err := uc.Registry().Attach(replacement, condition.FactoryMinSubtotal, condition.RuleContext{"amount": int64(5000)})
	require.NoError(t, err)
	c, err = uc.AddCartCondition(ctx, "guest-1", "", dyn2)
	require.NoError(t, err)
	assert.Len(t, c.DynamicConditions(), 1)

	// a second name of the same type still hits the cap
	other, err := condition.New("other-promo", "promo", condition.TargetTotal, "-5%")
	require.NoError(t, err)
	_, err = uc.AddCartCondition(ctx, "guest-1", "", other)
	assert.ErrorIs(t, err, ErrConditionCapExceeded)
}

// fakeTxKey marks a context as already inside a fake transaction, mirroring
// the join semantics of the relational backend.
type fakeTxKey struct{}

// versionedStorage wraps the memory backend with a fake version counter and
// records the expected version tagged onto writes.
type versionedStorage struct {
	*memstore.CartStorageMem
	version  int64
	mu       sync.Mutex
	expected []int64
	txCalls  int
}

func (s *versionedStorage) Version(context.Context, string, string) (int64, error) {
	return s.version, nil
}

func (s *versionedStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if v, ok := cartdom.ExpectedVersionFromContext(ctx); ok {
		s.expected = append(s.expected, v)
	}
	joined := ctx.Value(fakeTxKey{}) != nil
	if !joined {
		s.txCalls++
		ctx = context.WithValue(ctx, fakeTxKey{}, true)
	}
	s.mu.Unlock()
	return fn(ctx)
}

func TestCartUsecase_SaveTagsExpectedVersion(t *testing.T) {
	ctx := context.Background()
	storage := &versionedStorage{CartStorageMem: memstore.NewCartStorageMem()}
	uc := NewCartUsecase(storage, nil, nil, nil, CartOptions{AllowStacking: true})

	// fresh cart: no version read, nothing to expect
	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, storage.txCalls)
	assert.Empty(t, storage.expected)

	// subsequent mutations load the version and tag the write with it
	storage.version = 3
	_, err = uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, storage.txCalls)
	assert.Equal(t, []int64{3}, storage.expected)
}

// lockingStorage wraps the memory backend with fake transaction and lock
// support, recording the call order of one mutation cycle.
type lockingStorage struct {
	*memstore.CartStorageMem
	mu    sync.Mutex
	calls []string
}

func (s *lockingStorage) note(op string) {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	s.mu.Unlock()
}

func (s *lockingStorage) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

func (s *lockingStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	s.note("begin")
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		s.note("rollback")
		return err
	}
	s.note("commit")
	return nil
}

func (s *lockingStorage) Lock(ctx context.Context, identifier, instance string) error {
	if ctx.Value(fakeTxKey{}) == nil {
		return errors.New("lock requested outside a transaction")
	}
	s.note("lock")
	return nil
}

func (s *lockingStorage) Has(ctx context.Context, identifier, instance string) (bool, error) {
	s.note("has")
	return s.CartStorageMem.Has(ctx, identifier, instance)
}

func (s *lockingStorage) GetItems(ctx context.Context, identifier, instance string) ([]cartdom.ItemRecord, error) {
	s.note("read")
	return s.CartStorageMem.GetItems(ctx, identifier, instance)
}

func (s *lockingStorage) PutItems(ctx context.Context, identifier, instance string, items []cartdom.ItemRecord) error {
	s.note("write")
	return s.CartStorageMem.PutItems(ctx, identifier, instance, items)
}

func TestCartUsecase_MutationLocksBeforeReading(t *testing.T) {
	ctx := context.Background()
	storage := &lockingStorage{CartStorageMem: memstore.NewCartStorageMem()}
	uc := NewCartUsecase(storage, nil, nil, nil, CartOptions{AllowStacking: true})

	_, err := uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)

	// the whole read-modify-write cycle runs in one transaction with the
	// record locked before the existence check and the payload reads
	storage.mu.Lock()
	storage.calls = nil
	storage.mu.Unlock()

	_, err = uc.AddItem(ctx, "guest-1", "", ItemInput{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "lock", "has", "read", "write", "commit"}, storage.recorded())

	c, err := uc.GetCart(ctx, "guest-1", "")
	require.NoError(t, err)
	it, ok := c.Item("sku-1")
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity())
}
