// internal/adapters/out/db/cart_storage_pg_test.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
)

func TestParseConflictPolicy(t *testing.T) {
	for raw, want := range map[string]ConflictPolicy{
		"":                ConflictLastWriteWins,
		"last_write_wins": ConflictLastWriteWins,
		" REJECT ":        ConflictReject,
	} {
		got, err := ParseConflictPolicy(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseConflictPolicy("retry")
	assert.Error(t, err)
}

// openTestDB connects to the database named by CART_TEST_DATABASE_URL. The
// integration tests below are skipped when it is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("CART_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CART_TEST_DATABASE_URL not set")
	}
	conn, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newTestStorage(t *testing.T, opts Options) *CartStoragePG {
	t.Helper()
	s := NewCartStoragePG(openTestDB(t), opts)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

// testKey returns an identifier unique to this test run so parallel runs
// against a shared database do not collide. The record is dropped on
// cleanup.
func testKey(t *testing.T, s *CartStoragePG) string {
	id := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
	t.Cleanup(func() {
		_ = s.Forget(context.Background(), id, "cart")
	})
	return id
}

func TestCartStoragePG_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	id := testKey(t, s)

	ok, err := s.Has(ctx, id, "cart")
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := s.GetItems(ctx, id, "cart")
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, s.PutItems(ctx, id, "cart", []cartdom.ItemRecord{
		{ID: "sku-1", Name: "shoes", Price: 1000, Quantity: 2, Attributes: map[string]any{"color": "red"}},
	}))
	require.NoError(t, s.PutConditions(ctx, id, "cart", []cartdom.ConditionRecord{
		{Name: "sale", Type: "discount", Target: "total", Value: "-10%"},
	}))
	require.NoError(t, s.PutMetadata(ctx, id, "cart", map[string]any{"tier": "gold"}))

	items, err = s.GetItems(ctx, id, "cart")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sku-1", items[0].ID)
	assert.Equal(t, "red", items[0].Attributes["color"])

	conds, err := s.GetConditions(ctx, id, "cart")
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, "sale", conds[0].Name)

	md, err := s.GetMetadata(ctx, id, "cart")
	require.NoError(t, err)
	assert.Equal(t, "gold", md["tier"])
}

func TestCartStoragePG_VersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	id := testKey(t, s)

	v, err := s.Version(ctx, id, "cart")
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)

	require.NoError(t, s.PutItems(ctx, id, "cart", nil))
	v1, err := s.Version(ctx, id, "cart")
	require.NoError(t, err)

	require.NoError(t, s.PutMetadata(ctx, id, "cart", map[string]any{"k": "v"}))
	v2, err := s.Version(ctx, id, "cart")
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestCartStoragePG_TransactionBumpsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	id := testKey(t, s)

	// the three puts of one logical save count as a single write
	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.PutItems(ctx, id, "cart", []cartdom.ItemRecord{{ID: "a", Name: "a", Price: 1, Quantity: 1}}); err != nil {
			return err
		}
		if err := s.PutConditions(ctx, id, "cart", nil); err != nil {
			return err
		}
		return s.PutMetadata(ctx, id, "cart", nil)
	})
	require.NoError(t, err)

	v, err := s.Version(ctx, id, "cart")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestCartStoragePG_TransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	id := testKey(t, s)

	sentinel := fmt.Errorf("abort")
	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.PutItems(ctx, id, "cart", []cartdom.ItemRecord{{ID: "a", Name: "a", Price: 1, Quantity: 1}}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	ok, err := s.Has(ctx, id, "cart")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCartStoragePG_ConflictPolicies(t *testing.T) {
	ctx := context.Background()
	base := newTestStorage(t, Options{})
	id := testKey(t, base)

	t.Run("last_write_wins ignores stale versions", func(t *testing.T) {
		s := newTestStorage(t, Options{ConflictPolicy: ConflictLastWriteWins})
		require.NoError(t, s.PutItems(ctx, id, "cart", nil))

		stale := cartdom.WithExpectedVersion(ctx, 999)
		assert.NoError(t, s.PutMetadata(stale, id, "cart", map[string]any{"k": "v"}))
	})

	t.Run("reject fails stale writes", func(t *testing.T) {
		s := newTestStorage(t, Options{ConflictPolicy: ConflictReject})
		v, err := s.Version(ctx, id, "cart")
		require.NoError(t, err)

		fresh := cartdom.WithExpectedVersion(ctx, v)
		require.NoError(t, s.PutMetadata(fresh, id, "cart", map[string]any{"k": "v2"}))

		stale := cartdom.WithExpectedVersion(ctx, v)
		err = s.PutMetadata(stale, id, "cart", map[string]any{"k": "v3"})
		assert.ErrorIs(t, err, cartdom.ErrVersionConflict)
	})

	t.Run("reject without an expectation writes normally", func(t *testing.T) {
		s := newTestStorage(t, Options{ConflictPolicy: ConflictReject})
		assert.NoError(t, s.PutMetadata(ctx, id, "cart", map[string]any{"k": "v4"}))
	})
}

func TestCartStoragePG_ClearAndForget(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	id := testKey(t, s)

	require.NoError(t, s.PutItems(ctx, id, "cart", []cartdom.ItemRecord{{ID: "a", Name: "a", Price: 1, Quantity: 1}}))
	require.NoError(t, s.PutMetadata(ctx, id, "cart", map[string]any{"tier": "gold"}))

	require.NoError(t, s.Clear(ctx, id, "cart"))
	items, err := s.GetItems(ctx, id, "cart")
	require.NoError(t, err)
	assert.Empty(t, items)
	ok, err := s.Has(ctx, id, "cart")
	require.NoError(t, err)
	assert.True(t, ok)
	md, err := s.GetMetadata(ctx, id, "cart")
	require.NoError(t, err)
	assert.Equal(t, "gold", md["tier"])

	require.NoError(t, s.Forget(ctx, id, "cart"))
	ok, err = s.Has(ctx, id, "cart")
	require.NoError(t, err)
	assert.False(t, ok)

	// both are no-ops on an absent key
	assert.NoError(t, s.Clear(ctx, id, "cart"))
	assert.NoError(t, s.Forget(ctx, id, "cart"))
}

func TestCartStoragePG_Rekey(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, Options{})
	src := testKey(t, s)
	dst := testKey(t, s)

	err := s.Rekey(ctx, src, dst, "cart")
	assert.ErrorIs(t, err, cartdom.ErrRecordNotFound)

	require.NoError(t, s.PutItems(ctx, src, "cart", []cartdom.ItemRecord{{ID: "a", Name: "a", Price: 1, Quantity: 1}}))
	require.NoError(t, s.PutItems(ctx, dst, "cart", nil))

	err = s.Rekey(ctx, src, dst, "cart")
	assert.ErrorIs(t, err, cartdom.ErrRecordExists)

	require.NoError(t, s.Forget(ctx, dst, "cart"))
	require.NoError(t, s.Rekey(ctx, src, dst, "cart"))

	ok, err := s.Has(ctx, src, "cart")
	require.NoError(t, err)
	assert.False(t, ok)
	items, err := s.GetItems(ctx, dst, "cart")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestCartStoragePG_ConcurrentItemAdds(t *testing.T) {
	ctx := context.Background()

	add := func(uc *usecase.CartUsecase, id string) error {
		_, err := uc.AddItem(ctx, id, "cart", usecase.ItemInput{ID: "sku-1", Name: "widget", Price: 100, Quantity: 1})
		return err
	}

	quantity := func(t *testing.T, uc *usecase.CartUsecase, id string) int {
		t.Helper()
		c, err := uc.GetCart(ctx, id, "cart")
		require.NoError(t, err)
		it, ok := c.Item("sku-1")
		require.True(t, ok)
		return it.Quantity()
	}

	race := func(t *testing.T, uc *usecase.CartUsecase, id string) {
		t.Helper()
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- add(uc, id)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}

	t.Run("lock_for_update sums with no lost update", func(t *testing.T) {
		s := newTestStorage(t, Options{LockForUpdate: true})
		id := testKey(t, s)
		uc := usecase.NewCartUsecase(s, nil, nil, nil, usecase.CartOptions{})

		require.NoError(t, add(uc, id))
		race(t, uc, id)
		assert.Equal(t, 3, quantity(t, uc, id))
	})

	t.Run("without the lock the racers may overwrite each other", func(t *testing.T) {
		s := newTestStorage(t, Options{})
		id := testKey(t, s)
		uc := usecase.NewCartUsecase(s, nil, nil, nil, usecase.CartOptions{})

		require.NoError(t, add(uc, id))
		race(t, uc, id)
		assert.Contains(t, []int{2, 3}, quantity(t, uc, id))
	})
}
