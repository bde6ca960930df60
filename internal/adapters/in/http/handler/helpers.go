// internal/adapters/in/http/handler/helpers.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	usecase "cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

// -------------------------
// request / response plumbing
// -------------------------

func readJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeUsecaseErr maps domain and application errors onto HTTP statuses.
func writeUsecaseErr(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeErr(w, http.StatusInternalServerError, "unknown error")

	case errors.Is(err, usecase.ErrCartNotFound),
		errors.Is(err, cartdom.ErrItemNotFound),
		errors.Is(err, cartdom.ErrRecordNotFound),
		errors.Is(err, usecase.ErrVoucherNotFound):
		writeErr(w, http.StatusNotFound, err.Error())

	case errors.Is(err, usecase.ErrVoucherAlreadyApplied),
		errors.Is(err, usecase.ErrConditionCapExceeded),
		errors.Is(err, cartdom.ErrVersionConflict),
		errors.Is(err, cartdom.ErrRecordExists):
		writeErr(w, http.StatusConflict, err.Error())

	case errors.Is(err, usecase.ErrCartInvalidArgument),
		errors.Is(err, usecase.ErrMigrationSameIdentifier),
		errors.Is(err, cartdom.ErrInvalidIdentifier),
		errors.Is(err, cartdom.ErrInvalidInstance),
		errors.Is(err, cartdom.ErrInvalidItemID),
		errors.Is(err, cartdom.ErrInvalidItemName),
		errors.Is(err, cartdom.ErrInvalidItemPrice),
		errors.Is(err, cartdom.ErrInvalidItemQuantity),
		errors.Is(err, cartdom.ErrInvalidMergeStrategy),
		errors.Is(err, condition.ErrInvalidName),
		errors.Is(err, condition.ErrInvalidType),
		errors.Is(err, condition.ErrInvalidTarget),
		errors.Is(err, condition.ErrInvalidValue),
		errors.Is(err, condition.ErrUnknownRuleFactory),
		errors.Is(err, condition.ErrInvalidRuleContext):
		writeErr(w, http.StatusBadRequest, err.Error())

	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

// -------------------------
// cart key resolution
// -------------------------

// readCartKey resolves (identifier, instance) from query, header, then
// body fallback. Instance defaults to cart.DefaultInstance.
func readCartKey(r *http.Request, fallbackID string) (string, string) {
	id := strings.TrimSpace(r.URL.Query().Get("cartId"))
	if id == "" {
		id = strings.TrimSpace(r.Header.Get("X-Cart-Id"))
	}
	if id == "" {
		id = strings.TrimSpace(fallbackID)
	}

	inst := strings.TrimSpace(r.URL.Query().Get("instance"))
	if inst == "" {
		inst = strings.TrimSpace(r.Header.Get("X-Cart-Instance"))
	}
	if inst == "" {
		inst = cartdom.DefaultInstance
	}
	return id, inst
}

// -------------------------
// response DTO
// -------------------------

type conditionResp struct {
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	Target     string              `json:"target"`
	Value      string              `json:"value"`
	Order      int                 `json:"order"`
	Attributes map[string]any      `json:"attributes,omitempty"`
	Rules      []condition.RuleRef `json:"rules,omitempty"`
	Dynamic    bool                `json:"dynamic,omitempty"`
}

type itemResp struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           int64           `json:"price"`
	Quantity        int             `json:"quantity"`
	Attributes      map[string]any  `json:"attributes,omitempty"`
	AssociatedModel string          `json:"associatedModel,omitempty"`
	Conditions      []conditionResp `json:"conditions,omitempty"`
	Total           int64           `json:"total"`
}

type cartResp struct {
	Identifier string          `json:"identifier"`
	Instance   string          `json:"instance"`
	Items      []itemResp      `json:"items"`
	Conditions []conditionResp `json:"conditions"`
	Dynamic    []conditionResp `json:"dynamicConditions,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Subtotal   int64           `json:"subtotal"`
	Total      int64           `json:"total"`
	Savings    int64           `json:"savings"`
	Version    int64           `json:"version,omitempty"`
}

func toCartResp(c *cartdom.Cart, allowStacking bool) cartResp {
	resp := cartResp{
		Identifier: c.Identifier(),
		Instance:   c.Instance(),
		Items:      []itemResp{},
		Conditions: []conditionResp{},
		Metadata:   c.Metadata(),
		Subtotal:   c.Subtotal(),
		Total:      c.Total(),
		Savings:    c.Savings(),
		Version:    c.Version(),
	}

	for _, it := range c.Items() {
		ir := itemResp{
			ID:              it.ID(),
			Name:            it.Name(),
			Price:           it.UnitPrice(),
			Quantity:        it.Quantity(),
			Attributes:      it.Attributes(),
			AssociatedModel: it.AssociatedModel(),
			Total:           it.Total(allowStacking),
		}
		for _, cond := range it.Conditions().Sorted() {
			ir.Conditions = append(ir.Conditions, toConditionResp(cond))
		}
		resp.Items = append(resp.Items, ir)
	}

	for _, cond := range c.Conditions().Sorted() {
		resp.Conditions = append(resp.Conditions, toConditionResp(cond))
	}
	for _, cond := range c.DynamicConditions() {
		resp.Dynamic = append(resp.Dynamic, toConditionResp(cond))
	}

	return resp
}

func toConditionResp(c *condition.Condition) conditionResp {
	return conditionResp{
		Name:       c.Name(),
		Type:       c.Type(),
		Target:     string(c.Target()),
		Value:      c.Value(),
		Order:      c.Order(),
		Attributes: c.Attributes(),
		Rules:      c.RuleRefs(),
		Dynamic:    c.IsDynamic(),
	}
}
