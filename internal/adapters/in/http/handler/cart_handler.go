// internal/adapters/in/http/handler/cart_handler.go
package handler

import (
	"log"
	"net/http"
	"strings"
	"time"

	usecase "cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

// CartHandler serves the cart endpoints:
//
//	GET    /cart              current cart (created lazily, not persisted)
//	DELETE /cart              clear items and conditions
//	POST   /cart/items        add item (same id sums quantities)
//	PUT    /cart/items        set item quantity (<=0 removes)
//	DELETE /cart/items        remove item
//	POST   /cart/conditions   add cart or item condition
//	DELETE /cart/conditions   remove condition by name or type
//	POST   /cart/vouchers     apply voucher
//	DELETE /cart/vouchers     remove voucher
//	PUT    /cart/metadata     set a metadata key
type CartHandler struct {
	uc            *usecase.CartUsecase
	allowStacking bool
}

func NewCartHandler(uc *usecase.CartUsecase, allowStacking bool) *CartHandler {
	return &CartHandler{uc: uc, allowStacking: allowStacking}
}

func (h *CartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := strings.TrimRight(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	log.Printf("[cart_handler] enter method=%s path=%q query=%q", r.Method, path, r.URL.RawQuery)

	if h.uc == nil {
		log.Printf("[cart_handler] exit status=500 reason=usecase is nil elapsed=%s", time.Since(start))
		writeErr(w, http.StatusInternalServerError, "cart handler is not configured")
		return
	}

	isGET := r.Method == http.MethodGet
	isPOST := r.Method == http.MethodPost
	isPUT := r.Method == http.MethodPut
	isDEL := r.Method == http.MethodDelete

	switch {
	case isGET && strings.HasSuffix(path, "/cart"):
		h.handleGet(w, r, start)
	case isDEL && strings.HasSuffix(path, "/cart"):
		h.handleClear(w, r, start)

	case isPOST && strings.HasSuffix(path, "/cart/items"):
		h.handleAddItem(w, r, start)
	case isPUT && strings.HasSuffix(path, "/cart/items"):
		h.handleSetQuantity(w, r, start)
	case isDEL && strings.HasSuffix(path, "/cart/items"):
		h.handleRemoveItem(w, r, start)

	case isPOST && strings.HasSuffix(path, "/cart/conditions"):
		h.handleAddCondition(w, r, start)
	case isDEL && strings.HasSuffix(path, "/cart/conditions"):
		h.handleRemoveCondition(w, r, start)

	case isPOST && strings.HasSuffix(path, "/cart/vouchers"):
		h.handleApplyVoucher(w, r, start)
	case isDEL && strings.HasSuffix(path, "/cart/vouchers"):
		h.handleRemoveVoucher(w, r, start)

	case isPUT && strings.HasSuffix(path, "/cart/metadata"):
		h.handleSetMetadata(w, r, start)

	default:
		log.Printf("[cart_handler] exit status=404 method=%s path=%q elapsed=%s", r.Method, path, time.Since(start))
		writeErr(w, http.StatusNotFound, "not found")
	}
}

// -------------------------
// request DTOs
// -------------------------

type itemReq struct {
	CartID          string         `json:"cartId"`
	ItemID          string         `json:"itemId"`
	Name            string         `json:"name"`
	Price           int64          `json:"price"`
	Quantity        int            `json:"quantity"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	AssociatedModel string         `json:"associatedModel,omitempty"`
}

type ruleReq struct {
	Key     string                `json:"key"`
	Context condition.RuleContext `json:"context,omitempty"`
}

type conditionReq struct {
	CartID     string         `json:"cartId"`
	ItemID     string         `json:"itemId,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Value      string         `json:"value"`
	Order      int            `json:"order,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Rules      []ruleReq      `json:"rules,omitempty"`
}

type removeConditionReq struct {
	CartID string `json:"cartId"`
	ItemID string `json:"itemId,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

type voucherReq struct {
	CartID string `json:"cartId"`
	Code   string `json:"code"`
	Value  string `json:"value,omitempty"`
	Target string `json:"target,omitempty"`
}

type metadataReq struct {
	CartID string `json:"cartId"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

// -------------------------
// handlers
// -------------------------

func (h *CartHandler) handleGet(w http.ResponseWriter, r *http.Request, start time.Time) {
	id, inst := readCartKey(r, "")
	if id == "" {
		writeErr(w, http.StatusBadRequest, "cartId is required")
		return
	}

	c, err := h.uc.GetOrCreate(r.Context(), id, inst)
	if err != nil {
		log.Printf("[cart_handler] GET cart error cartId=%q err=%v", id, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] GET cart ok cartId=%q items=%d elapsed=%s", id, c.ItemCount(), time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(c, h.allowStacking))
}

func (h *CartHandler) handleClear(w http.ResponseWriter, r *http.Request, start time.Time) {
	id, inst := readCartKey(r, "")
	if id == "" {
		writeErr(w, http.StatusBadRequest, "cartId is required")
		return
	}

	c, err := h.uc.ClearCart(r.Context(), id, inst)
	if err != nil {
		log.Printf("[cart_handler] DELETE cart error cartId=%q err=%v", id, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] DELETE cart ok cartId=%q elapsed=%s", id, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(c, h.allowStacking))
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req itemReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	if id == "" {
		writeErr(w, http.StatusBadRequest, "cartId is required")
		return
	}

	c, err := h.uc.AddItem(r.Context(), id, inst, usecase.ItemInput{
		ID:              req.ItemID,
		Name:            req.Name,
		Price:           req.Price,
		Quantity:        req.Quantity,
		Attributes:      req.Attributes,
		AssociatedModel: req.AssociatedModel,
	})
	if err != nil {
		log.Printf("[cart_handler] POST add-item error cartId=%q itemId=%q err=%v", id, req.ItemID, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] POST add-item ok cartId=%q itemId=%q qty=%d elapsed=%s", id, req.ItemID, req.Quantity, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(c, h.allowStacking))
}

func (h *CartHandler) handleSetQuantity(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req itemReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	if id == "" || strings.TrimSpace(req.ItemID) == "" {
		writeErr(w, http.StatusBadRequest, "cartId and itemId are required")
		return
	}

	c, err := h.uc.SetItemQuantity(r.Context(), id, inst, req.ItemID, req.Quantity)
	if err != nil {
		log.Printf("[cart_handler] PUT set-quantity error cartId=%q itemId=%q err=%v", id, req.ItemID, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] PUT set-quantity ok cartId=%q itemId=%q qty=%d elapsed=%s", id, req.ItemID, req.Quantity, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(c, h.allowStacking))
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req itemReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	if id == "" || strings.TrimSpace(req.ItemID) == "" {
		writeErr(w, http.StatusBadRequest, "cartId and itemId are required")
		return
	}

	c, err := h.uc.RemoveItem(r.Context(), id, inst, req.ItemID)
	if err != nil {
		log.Printf("[cart_handler] DELETE remove-item error cartId=%q itemId=%q err=%v", id, req.ItemID, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] DELETE remove-item ok cartId=%q itemId=%q elapsed=%s", id, req.ItemID, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(c, h.allowStacking))
}

func (h *CartHandler) handleAddCondition(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req conditionReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	if id == "" {
		writeErr(w, http.StatusBadRequest, "cartId is required")
		return
	}

	cond, err := h.buildCondition(req)
	if err != nil {
		log.Printf("[cart_handler] POST add-condition build error cartId=%q name=%q err=%v", id, req.Name, err)
		writeUsecaseErr(w, err)
		return
	}

	if strings.TrimSpace(req.ItemID) != "" {
		cart, err := h.uc.AddItemCondition(r.Context(), id, inst, req.ItemID, cond)
		if err != nil {
			log.Printf("[cart_handler] POST add-item-condition error cartId=%q itemId=%q name=%q err=%v", id, req.ItemID, req.Name, err)
			writeUsecaseErr(w, err)
			return
		}
		log.Printf("[cart_handler] POST add-item-condition ok cartId=%q itemId=%q name=%q elapsed=%s", id, req.ItemID, req.Name, time.Since(start))
		writeJSON(w, http.StatusOK, toCartResp(cart, h.allowStacking))
		return
	}

	cart, err := h.uc.AddCartCondition(r.Context(), id, inst, cond)
	if err != nil {
		log.Printf("[cart_handler] POST add-condition error cartId=%q name=%q err=%v", id, req.Name, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] POST add-condition ok cartId=%q name=%q dynamic=%t elapsed=%s", id, req.Name, cond.IsDynamic(), time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(cart, h.allowStacking))
}

func (h *CartHandler) handleRemoveCondition(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req removeConditionReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	name := strings.TrimSpace(req.Name)
	condType := strings.TrimSpace(req.Type)
	if id == "" || (name == "" && condType == "") {
		writeErr(w, http.StatusBadRequest, "cartId and name or type are required")
		return
	}

	var (
		cart    *cartdom.Cart
		removed bool
		err     error
	)
	switch {
	case strings.TrimSpace(req.ItemID) != "":
		cart, removed, err = h.uc.RemoveItemCondition(r.Context(), id, inst, req.ItemID, name)
	case name != "":
		cart, removed, err = h.uc.RemoveCartCondition(r.Context(), id, inst, name)
	default:
		cart, removed, err = h.uc.RemoveConditionsByType(r.Context(), id, inst, condType)
	}
	if err != nil {
		log.Printf("[cart_handler] DELETE condition error cartId=%q name=%q type=%q err=%v", id, name, condType, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] DELETE condition ok cartId=%q name=%q type=%q removed=%t elapsed=%s", id, name, condType, removed, time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"cart":    toCartResp(cart, h.allowStacking),
	})
}

func (h *CartHandler) handleApplyVoucher(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req voucherReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	code := strings.TrimSpace(req.Code)
	if id == "" || code == "" {
		writeErr(w, http.StatusBadRequest, "cartId and code are required")
		return
	}

	target := condition.TargetTotal
	if t := strings.TrimSpace(req.Target); t != "" {
		target = condition.Target(t)
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		writeErr(w, http.StatusBadRequest, "value is required")
		return
	}

	voucher, err := condition.New(code, usecase.ConditionTypeVoucher, target, value)
	if err != nil {
		writeUsecaseErr(w, err)
		return
	}

	cart, err := h.uc.ApplyVoucher(r.Context(), id, inst, voucher)
	if err != nil {
		log.Printf("[cart_handler] POST apply-voucher error cartId=%q code=%q err=%v", id, code, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] POST apply-voucher ok cartId=%q code=%q elapsed=%s", id, code, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(cart, h.allowStacking))
}

func (h *CartHandler) handleRemoveVoucher(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req voucherReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	code := strings.TrimSpace(req.Code)
	if id == "" || code == "" {
		writeErr(w, http.StatusBadRequest, "cartId and code are required")
		return
	}

	cart, err := h.uc.RemoveVoucher(r.Context(), id, inst, code)
	if err != nil {
		log.Printf("[cart_handler] DELETE voucher error cartId=%q code=%q err=%v", id, code, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] DELETE voucher ok cartId=%q code=%q elapsed=%s", id, code, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(cart, h.allowStacking))
}

func (h *CartHandler) handleSetMetadata(w http.ResponseWriter, r *http.Request, start time.Time) {
	var req metadataReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, inst := readCartKey(r, req.CartID)
	key := strings.TrimSpace(req.Key)
	if id == "" || key == "" {
		writeErr(w, http.StatusBadRequest, "cartId and key are required")
		return
	}

	cart, err := h.uc.SetMetadata(r.Context(), id, inst, key, req.Value)
	if err != nil {
		log.Printf("[cart_handler] PUT metadata error cartId=%q key=%q err=%v", id, key, err)
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[cart_handler] PUT metadata ok cartId=%q key=%q elapsed=%s", id, key, time.Since(start))
	writeJSON(w, http.StatusOK, toCartResp(cart, h.allowStacking))
}

// buildCondition assembles a condition from a request, attaching dynamic
// rules through the registry so the context is validated up front.
func (h *CartHandler) buildCondition(req conditionReq) (*condition.Condition, error) {
	cond, err := condition.New(req.Name, req.Type, condition.Target(strings.TrimSpace(req.Target)), req.Value)
	if err != nil {
		return nil, err
	}
	if req.Order != 0 {
		cond = cond.WithOrder(req.Order)
	}
	if len(req.Attributes) > 0 {
		cond = cond.WithAttributes(req.Attributes)
	}
	for _, rule := range req.Rules {
		cond, err = h.uc.Registry().Attach(cond, rule.Key, rule.Context)
		if err != nil {
			return nil, err
		}
	}
	return cond, nil
}
