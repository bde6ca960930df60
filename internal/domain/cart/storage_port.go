// internal/domain/cart/storage_port.go
package cart

import (
	"context"
	"errors"

	"cartengine/internal/domain/condition"
)

// Storage errors shared by the backends.
var (
	ErrRecordNotFound     = errors.New("cart: storage record not found")
	ErrRecordExists       = errors.New("cart: storage record already exists")
	ErrVersionConflict    = errors.New("cart: storage version conflict")
	ErrStorageUnavailable = errors.New("cart: storage unavailable")
)

// Storage is the persistence port for carts, keyed by (identifier,
// instance). The backend owns the durable record and is the single source
// of truth between requests.
//
// Implementations:
//   - memory (ephemeral, session-scoped, no durability)
//   - firestore (cache semantics, TTL on expiresAt, unconditional overwrite)
//   - postgres (durable, version counter, optional pessimistic locking)
type Storage interface {
	GetItems(ctx context.Context, identifier, instance string) ([]ItemRecord, error)
	PutItems(ctx context.Context, identifier, instance string, items []ItemRecord) error

	GetConditions(ctx context.Context, identifier, instance string) ([]ConditionRecord, error)
	PutConditions(ctx context.Context, identifier, instance string, conds []ConditionRecord) error

	GetMetadata(ctx context.Context, identifier, instance string) (map[string]any, error)
	PutMetadata(ctx context.Context, identifier, instance string, metadata map[string]any) error

	// Has reports whether a record exists for the key.
	Has(ctx context.Context, identifier, instance string) (bool, error)

	// Clear empties items, conditions and the version-independent payload
	// but keeps the record addressable; Forget deletes the record.
	Clear(ctx context.Context, identifier, instance string) error
	Forget(ctx context.Context, identifier, instance string) error

	// Rekey transfers ownership of a record to a new identifier (takeover).
	// Fails with ErrRecordExists when the target key is already taken and
	// with ErrRecordNotFound when the source is absent.
	Rekey(ctx context.Context, oldIdentifier, newIdentifier, instance string) error
}

// Versioned is implemented by backends that keep a strictly increasing
// version counter per record.
type Versioned interface {
	Version(ctx context.Context, identifier, instance string) (int64, error)
}

// Transactional is implemented by backends that can group several port
// calls into one atomic unit. Callers that skip it still get per-call
// atomicity. A nested call joins the surrounding transaction instead of
// opening a second one.
type Transactional interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locking is implemented by backends that can hold an exclusive lock on a
// record for the remainder of the surrounding transaction, serializing
// concurrent read-modify-write cycles on the same key. Callers take the
// lock before the first read. Outside a transaction, or when the backend
// is not configured to lock, Lock is a no-op.
type Locking interface {
	Lock(ctx context.Context, identifier, instance string) error
}

type expectedVersionKey struct{}

// WithExpectedVersion tags ctx with the record version the caller read
// before mutating. Versioned backends configured to reject stale writes
// compare it against the stored version and fail with ErrVersionConflict
// on mismatch. Backends without versioning ignore it.
func WithExpectedVersion(ctx context.Context, version int64) context.Context {
	return context.WithValue(ctx, expectedVersionKey{}, version)
}

// ExpectedVersionFromContext returns the version set by WithExpectedVersion.
func ExpectedVersionFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(expectedVersionKey{}).(int64)
	return v, ok
}

// ----------------------------
// Persisted record shapes
// ----------------------------

// ItemRecord is the serialized form of a line item.
type ItemRecord struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Price           int64             `json:"price"`
	Quantity        int               `json:"quantity"`
	Attributes      map[string]any    `json:"attributes,omitempty"`
	AssociatedModel string            `json:"associatedModel,omitempty"`
	Conditions      []ConditionRecord `json:"conditions,omitempty"`
}

// ConditionRecord is the serialized form of a condition. Rules holds the
// persisted (factory key, context) pairs of a dynamic condition; the
// predicates themselves are never serialized.
type ConditionRecord struct {
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	Target     string              `json:"target"`
	Value      string              `json:"value"`
	Attributes map[string]any      `json:"attributes,omitempty"`
	Order      int                 `json:"order,omitempty"`
	Rules      []condition.RuleRef `json:"rules,omitempty"`
}
