// internal/adapters/out/firestore/cart_storage_fs.go
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

// CartStorageFS implements cart.Storage on Firestore with cache semantics.
//
// Collection design:
// - collection: carts
// - docId: "<identifier>__<instance>" (docId is the source of truth)
// - fields: items(array), conditions(array), metadata(map),
//   createdAt, updatedAt, expiresAt
//
// TTL:
// - Configure Firestore TTL on "expiresAt". Every write refreshes it, so an
//   actively used cart never expires; an abandoned one does.
//
// Cache policy: every write overwrites the full document. The last writer
// wins; there is no version counter here.
type CartStorageFS struct {
	Client *firestore.Client
	TTL    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// DefaultTTL keeps abandoned carts for 30 days.
const DefaultTTL = 30 * 24 * time.Hour

func NewCartStorageFS(client *firestore.Client, ttl time.Duration) *CartStorageFS {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CartStorageFS{
		Client: client,
		TTL:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *CartStorageFS) col() *firestore.CollectionRef {
	return s.Client.Collection("carts")
}

func docID(identifier, instance string) string {
	return strings.TrimSpace(identifier) + "__" + strings.TrimSpace(instance)
}

func (s *CartStorageFS) GetItems(ctx context.Context, identifier, instance string) ([]cartdom.ItemRecord, error) {
	doc, ok, err := s.read(ctx, identifier, instance)
	if err != nil || !ok {
		return nil, err
	}
	return itemsFromDocs(doc.Items), nil
}

func (s *CartStorageFS) PutItems(ctx context.Context, identifier, instance string, items []cartdom.ItemRecord) error {
	return s.write(ctx, identifier, instance, func(doc *cartDoc) {
		doc.Items = itemDocsFrom(items)
	})
}

func (s *CartStorageFS) GetConditions(ctx context.Context, identifier, instance string) ([]cartdom.ConditionRecord, error) {
	doc, ok, err := s.read(ctx, identifier, instance)
	if err != nil || !ok {
		return nil, err
	}
	return conditionsFromDocs(doc.Conditions), nil
}

func (s *CartStorageFS) PutConditions(ctx context.Context, identifier, instance string, conds []cartdom.ConditionRecord) error {
	return s.write(ctx, identifier, instance, func(doc *cartDoc) {
		doc.Conditions = conditionDocsFrom(conds)
	})
}

func (s *CartStorageFS) GetMetadata(ctx context.Context, identifier, instance string) (map[string]any, error) {
	doc, ok, err := s.read(ctx, identifier, instance)
	if err != nil || !ok {
		return nil, err
	}
	return doc.Metadata, nil
}

func (s *CartStorageFS) PutMetadata(ctx context.Context, identifier, instance string, metadata map[string]any) error {
	return s.write(ctx, identifier, instance, func(doc *cartDoc) {
		doc.Metadata = metadata
	})
}

func (s *CartStorageFS) Has(ctx context.Context, identifier, instance string) (bool, error) {
	if err := s.check(identifier, instance); err != nil {
		return false, err
	}
	_, err := s.col().Doc(docID(identifier, instance)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Clear empties items and conditions but keeps the document (idempotent).
func (s *CartStorageFS) Clear(ctx context.Context, identifier, instance string) error {
	if err := s.check(identifier, instance); err != nil {
		return err
	}

	now := s.now()
	_, err := s.col().Doc(docID(identifier, instance)).Update(ctx, []firestore.Update{
		{Path: "items", Value: []itemDoc{}},
		{Path: "conditions", Value: []conditionDoc{}},
		{Path: "updatedAt", Value: now},
		{Path: "expiresAt", Value: now.Add(s.TTL)},
	})
	if err != nil && status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *CartStorageFS) Forget(ctx context.Context, identifier, instance string) error {
	if err := s.check(identifier, instance); err != nil {
		return err
	}
	_, err := s.col().Doc(docID(identifier, instance)).Delete(ctx)
	return err
}

// Rekey moves a document to a new identifier. Fails if the target already
// exists so a user cart is never silently overwritten.
func (s *CartStorageFS) Rekey(ctx context.Context, oldIdentifier, newIdentifier, instance string) error {
	if err := s.check(oldIdentifier, instance); err != nil {
		return err
	}
	if strings.TrimSpace(newIdentifier) == "" {
		return errors.New("cart_storage_fs: new identifier is empty")
	}

	src := s.col().Doc(docID(oldIdentifier, instance))
	dst := s.col().Doc(docID(newIdentifier, instance))

	return s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(src)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return cartdom.ErrRecordNotFound
			}
			return err
		}

		_, err = tx.Get(dst)
		if err == nil {
			return cartdom.ErrRecordExists
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		var doc cartDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.now()
		doc.ExpiresAt = doc.UpdatedAt.Add(s.TTL)

		if err := tx.Set(dst, doc); err != nil {
			return err
		}
		return tx.Delete(src)
	})
}

// ----------------------------
// Read / write plumbing
// ----------------------------

func (s *CartStorageFS) check(identifier, instance string) error {
	if s == nil || s.Client == nil {
		return errors.New("cart_storage_fs: firestore client is nil")
	}
	if strings.TrimSpace(identifier) == "" {
		return errors.New("cart_storage_fs: identifier is empty")
	}
	if strings.TrimSpace(instance) == "" {
		return errors.New("cart_storage_fs: instance is empty")
	}
	return nil
}

func (s *CartStorageFS) read(ctx context.Context, identifier, instance string) (cartDoc, bool, error) {
	if err := s.check(identifier, instance); err != nil {
		return cartDoc{}, false, err
	}

	snap, err := s.col().Doc(docID(identifier, instance)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return cartDoc{}, false, nil
		}
		return cartDoc{}, false, err
	}

	var doc cartDoc
	if err := snap.DataTo(&doc); err != nil {
		return cartDoc{}, false, err
	}
	return doc, true, nil
}

// write does read-modify-write of the full document. Missing docs are
// created on first write.
func (s *CartStorageFS) write(ctx context.Context, identifier, instance string, mutate func(*cartDoc)) error {
	doc, ok, err := s.read(ctx, identifier, instance)
	if err != nil {
		return err
	}

	now := s.now()
	if !ok {
		doc.CreatedAt = now
	}
	mutate(&doc)
	doc.UpdatedAt = now
	doc.ExpiresAt = now.Add(s.TTL)

	_, err = s.col().Doc(docID(identifier, instance)).Set(ctx, doc)
	return err
}

// -----------------------------------------
// Firestore DTO
// -----------------------------------------

type cartDoc struct {
	Items      []itemDoc      `firestore:"items"`
	Conditions []conditionDoc `firestore:"conditions"`
	Metadata   map[string]any `firestore:"metadata"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

type itemDoc struct {
	ID              string         `firestore:"id"`
	Name            string         `firestore:"name"`
	Price           int64          `firestore:"price"`
	Quantity        int            `firestore:"quantity"`
	Attributes      map[string]any `firestore:"attributes"`
	AssociatedModel string         `firestore:"associatedModel"`
	Conditions      []conditionDoc `firestore:"conditions"`
}

type conditionDoc struct {
	Name       string         `firestore:"name"`
	Type       string         `firestore:"type"`
	Target     string         `firestore:"target"`
	Value      string         `firestore:"value"`
	Attributes map[string]any `firestore:"attributes"`
	Order      int            `firestore:"order"`
	Rules      []ruleRefDoc   `firestore:"rules"`
}

type ruleRefDoc struct {
	Key     string         `firestore:"key"`
	Context map[string]any `firestore:"context"`
}

func itemDocsFrom(items []cartdom.ItemRecord) []itemDoc {
	out := make([]itemDoc, 0, len(items))
	for _, it := range items {
		out = append(out, itemDoc{
			ID:              it.ID,
			Name:            it.Name,
			Price:           it.Price,
			Quantity:        it.Quantity,
			Attributes:      it.Attributes,
			AssociatedModel: it.AssociatedModel,
			Conditions:      conditionDocsFrom(it.Conditions),
		})
	}
	return out
}

func itemsFromDocs(docs []itemDoc) []cartdom.ItemRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]cartdom.ItemRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, cartdom.ItemRecord{
			ID:              d.ID,
			Name:            d.Name,
			Price:           d.Price,
			Quantity:        d.Quantity,
			Attributes:      d.Attributes,
			AssociatedModel: d.AssociatedModel,
			Conditions:      conditionsFromDocs(d.Conditions),
		})
	}
	return out
}

func conditionDocsFrom(conds []cartdom.ConditionRecord) []conditionDoc {
	out := make([]conditionDoc, 0, len(conds))
	for _, c := range conds {
		d := conditionDoc{
			Name:       c.Name,
			Type:       c.Type,
			Target:     c.Target,
			Value:      c.Value,
			Attributes: c.Attributes,
			Order:      c.Order,
		}
		for _, ref := range c.Rules {
			d.Rules = append(d.Rules, ruleRefDoc{Key: ref.Key, Context: ref.Context})
		}
		out = append(out, d)
	}
	return out
}

func conditionsFromDocs(docs []conditionDoc) []cartdom.ConditionRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]cartdom.ConditionRecord, 0, len(docs))
	for _, d := range docs {
		rec := cartdom.ConditionRecord{
			Name:       d.Name,
			Type:       d.Type,
			Target:     d.Target,
			Value:      d.Value,
			Attributes: d.Attributes,
			Order:      d.Order,
		}
		for _, ref := range d.Rules {
			rec.Rules = append(rec.Rules, condition.RuleRef{Key: ref.Key, Context: ref.Context})
		}
		out = append(out, rec)
	}
	return out
}
