// internal/adapters/in/http/handler/cart_handler_test.go
package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memstore "cartengine/internal/adapters/out/memory"
	"cartengine/internal/application/event"
	usecase "cartengine/internal/application/usecase"
	"cartengine/internal/domain/condition"
)

func newTestCartHandler(t *testing.T) *CartHandler {
	t.Helper()
	registry := condition.NewRegistry()
	require.NoError(t, condition.RegisterBuiltins(registry))
	uc := usecase.NewCartUsecase(
		memstore.NewCartStorageMem(),
		registry,
		condition.NewEvaluator(nil),
		event.NewDispatcher(),
		usecase.CartOptions{
			AllowStacking: true,
			ConditionCaps: map[string]int{usecase.ConditionTypeVoucher: 1},
		},
	)
	return NewCartHandler(uc, true)
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestCartHandler_GetCart(t *testing.T) {
	h := newTestCartHandler(t)

	t.Run("missing cartId", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/cart", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "cartId")
	})

	t.Run("empty cart from query param", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/cart?cartId=guest-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "guest-1", body["identifier"])
		assert.Equal(t, "default", body["instance"])
		assert.EqualValues(t, 0, body["total"])
	})

	t.Run("cart key from headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.Header.Set("X-Cart-Id", "guest-2")
		req.Header.Set("X-Cart-Instance", "wishlist")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "guest-2", body["identifier"])
		assert.Equal(t, "wishlist", body["instance"])
	})
}

func TestCartHandler_ItemFlow(t *testing.T) {
	h := newTestCartHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "name": "shoes", "price": 1000, "quantity": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2000, body["total"])

	// same id sums
	w, body = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "name": "shoes", "price": 1000, "quantity": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.EqualValues(t, 3, items[0].(map[string]any)["quantity"])

	// set quantity
	w, body = doJSON(t, h, http.MethodPut, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "quantity": 5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5000, body["total"])

	// unknown item id
	w, _ = doJSON(t, h, http.MethodPut, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "missing", "quantity": 1,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// invalid payload
	w, _ = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-2", "name": "x", "price": 100, "quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// remove
	w, body = doJSON(t, h, http.MethodDelete, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["items"])
}

func TestCartHandler_Conditions(t *testing.T) {
	h := newTestCartHandler(t)

	_, _ = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "name": "shoes", "price": 1000, "quantity": 1,
	})

	w, body := doJSON(t, h, http.MethodPost, "/cart/conditions", map[string]any{
		"cartId": "guest-1", "name": "sale", "type": "discount", "target": "total", "value": "-10%",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 900, body["total"])

	t.Run("invalid value rejected", func(t *testing.T) {
		w, _ := doJSON(t, h, http.MethodPost, "/cart/conditions", map[string]any{
			"cartId": "guest-1", "name": "bad", "type": "discount", "target": "total", "value": "NAN",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown rule factory rejected", func(t *testing.T) {
		w, _ := doJSON(t, h, http.MethodPost, "/cart/conditions", map[string]any{
			"cartId": "guest-1", "name": "dyn", "type": "discount", "target": "total", "value": "-5%",
			"rules": []map[string]any{{"key": "no_such_factory"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("dynamic condition activates through the engine", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/cart/conditions", map[string]any{
			"cartId": "guest-1", "name": "big-spender", "type": "discount", "target": "total", "value": "-50%",
			"rules": []map[string]any{{
				"key":     "min_subtotal",
				"context": map[string]any{"amount": 5000},
			}},
		})
		require.Equal(t, http.StatusOK, w.Code)
		// subtotal 1000: registered but inactive, only the static sale applies
		assert.EqualValues(t, 900, body["total"])

		w, body = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
			"cartId": "guest-1", "itemId": "sku-2", "name": "coat", "price": 5000, "quantity": 1,
		})
		require.Equal(t, http.StatusOK, w.Code)
		// 6000 -> sale -10% -> 5400 -> big-spender -50% -> 2700
		assert.EqualValues(t, 2700, body["total"])
	})

	t.Run("remove by name", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodDelete, "/cart/conditions", map[string]any{
			"cartId": "guest-1", "name": "sale",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["removed"])

		w, body = doJSON(t, h, http.MethodDelete, "/cart/conditions", map[string]any{
			"cartId": "guest-1", "name": "sale",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["removed"])
	})
}

func TestCartHandler_Vouchers(t *testing.T) {
	h := newTestCartHandler(t)

	_, _ = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "name": "shoes", "price": 1000, "quantity": 1,
	})

	w, body := doJSON(t, h, http.MethodPost, "/cart/vouchers", map[string]any{
		"cartId": "guest-1", "code": "SUMMER", "value": "-100",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 900, body["total"])

	t.Run("duplicate code conflicts", func(t *testing.T) {
		w, _ := doJSON(t, h, http.MethodPost, "/cart/vouchers", map[string]any{
			"cartId": "guest-1", "code": "SUMMER", "value": "-100",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("cap conflicts", func(t *testing.T) {
		w, _ := doJSON(t, h, http.MethodPost, "/cart/vouchers", map[string]any{
			"cartId": "guest-1", "code": "WINTER", "value": "-50",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("remove then missing", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodDelete, "/cart/vouchers", map[string]any{
			"cartId": "guest-1", "code": "SUMMER",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1000, body["total"])

		w, _ = doJSON(t, h, http.MethodDelete, "/cart/vouchers", map[string]any{
			"cartId": "guest-1", "code": "SUMMER",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCartHandler_MetadataAndClear(t *testing.T) {
	h := newTestCartHandler(t)

	_, _ = doJSON(t, h, http.MethodPost, "/cart/items", map[string]any{
		"cartId": "guest-1", "itemId": "sku-1", "name": "shoes", "price": 1000, "quantity": 1,
	})

	w, body := doJSON(t, h, http.MethodPut, "/cart/metadata", map[string]any{
		"cartId": "guest-1", "key": "tier", "value": "gold",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gold", body["metadata"].(map[string]any)["tier"])

	w, body = doJSON(t, h, http.MethodDelete, "/cart?cartId=guest-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["items"])
	assert.Equal(t, "gold", body["metadata"].(map[string]any)["tier"])
}

func TestCartHandler_UnknownRoute(t *testing.T) {
	h := newTestCartHandler(t)
	w, _ := doJSON(t, h, http.MethodPatch, "/cart/items", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartHandler_NilUsecase(t *testing.T) {
	h := NewCartHandler(nil, true)
	w, _ := doJSON(t, h, http.MethodGet, "/cart?cartId=guest-1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
