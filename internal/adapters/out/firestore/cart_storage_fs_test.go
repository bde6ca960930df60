// internal/adapters/out/firestore/cart_storage_fs_test.go
package firestore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

func TestDocID(t *testing.T) {
	assert.Equal(t, "guest-1__cart", docID("guest-1", "cart"))
	assert.Equal(t, "guest-1__cart", docID(" guest-1 ", " cart "))
}

func TestNewCartStorageFS_TTLDefault(t *testing.T) {
	s := NewCartStorageFS(nil, 0)
	assert.Equal(t, DefaultTTL, s.TTL)

	s = NewCartStorageFS(nil, -1)
	assert.Equal(t, DefaultTTL, s.TTL)
}

func TestDocConversion(t *testing.T) {
	items := []cartdom.ItemRecord{{
		ID:              "sku-1",
		Name:            "shoes",
		Price:           1000,
		Quantity:        2,
		Attributes:      map[string]any{"color": "red"},
		AssociatedModel: "model-9",
		Conditions: []cartdom.ConditionRecord{{
			Name: "line-deal", Type: "discount", Target: "item", Value: "-100",
		}},
	}}
	conds := []cartdom.ConditionRecord{{
		Name:   "big-spender",
		Type:   "discount",
		Target: "total",
		Value:  "-10%",
		Order:  2,
		Rules: []condition.RuleRef{{
			Key:     condition.FactoryMinSubtotal,
			Context: condition.RuleContext{"amount": int64(5000)},
		}},
	}}

	gotItems := itemsFromDocs(itemDocsFrom(items))
	assert.Equal(t, items, gotItems)

	gotConds := conditionsFromDocs(conditionDocsFrom(conds))
	assert.Equal(t, conds, gotConds)

	// empty payloads collapse to nil so absent and cleared read the same
	assert.Nil(t, itemsFromDocs(itemDocsFrom(nil)))
	assert.Nil(t, conditionsFromDocs(conditionDocsFrom(nil)))
}
