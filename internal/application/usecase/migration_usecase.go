// internal/application/usecase/migration_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"

	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"

	"cartengine/internal/application/event"
)

var (
	ErrMigrationInvalidArgument = errors.New("cart_migration: invalid argument")
	ErrMigrationSameIdentifier  = errors.New("cart_migration: source and target identifiers are equal")
)

// StrategyTakeover is reported on the CartMerged event for ownership
// transfers; it is not a configurable conflict strategy.
const StrategyTakeover cartdom.MergeStrategy = "takeover"

// CleanupOutcome makes the best-effort post-merge housekeeping explicit
// instead of silently swallowed. Cleanup failure never blocks the primary
// login/merge flow; callers decide whether to log or alert.
type CleanupOutcome struct {
	Attempted bool
	OK        bool
	Err       error
}

// MergeReport is the result surface of a takeover or merge.
type MergeReport struct {
	Target        *cartdom.Cart
	Strategy      cartdom.MergeStrategy
	Outcome       cartdom.MergeOutcome
	TookOver      bool
	Cleanup       CleanupOutcome
	SourceExisted bool
}

// MigrationUsecase reconciles two carts when the owning identity changes
// (guest session -> authenticated user). It borrows both carts for the
// duration of the operation and retains nothing.
type MigrationUsecase struct {
	storage    cartdom.Storage
	registry   *condition.Registry
	dispatcher *event.Dispatcher
	opts       CartOptions
}

func NewMigrationUsecase(storage cartdom.Storage, registry *condition.Registry, dispatcher *event.Dispatcher, opts CartOptions) *MigrationUsecase {
	if registry == nil {
		registry = condition.NewRegistry()
	}
	if dispatcher == nil {
		dispatcher = event.NewDispatcher()
	}
	return &MigrationUsecase{
		storage:    storage,
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Takeover transfers cart ownership at login. If the target already has a
// cart it is preserved outright and the source record is discarded; no
// item-level merge happens. If the target has no cart, the source record is
// re-keyed to the target identifier.
func (m *MigrationUsecase) Takeover(ctx context.Context, sourceID, targetID, instance string) (*MergeReport, error) {
	srcID, tgtID, inst, err := normalizeMigrationKey(sourceID, targetID, instance)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{Strategy: StrategyTakeover, TookOver: true}

	sourceExists, err := m.storage.Has(ctx, srcID, inst)
	if err != nil {
		return nil, err
	}
	report.SourceExisted = sourceExists

	targetExists, err := m.storage.Has(ctx, tgtID, inst)
	if err != nil {
		return nil, err
	}

	// snapshot the source before any re-keying so the event can carry it
	var source *cartdom.Cart
	if sourceExists {
		if source, err = m.loadCart(ctx, srcID, inst); err != nil {
			return nil, err
		}
	}

	switch {
	case targetExists:
		// target wins outright; drop the source record (best-effort)
		if sourceExists {
			report.Cleanup = m.forget(ctx, srcID, inst)
		}
	case sourceExists:
		if err := m.storage.Rekey(ctx, srcID, tgtID, inst); err != nil {
			return nil, err
		}
		report.Outcome.ItemsMerged = source.ItemCount()
	default:
		// neither side has a record; nothing to transfer
		return report, nil
	}

	target, err := m.loadOrEmpty(ctx, tgtID, inst)
	if err != nil {
		return nil, err
	}
	report.Target = target

	m.dispatcher.Dispatch(ctx, cartdom.CartMerged{
		TargetCart:       target,
		SourceCart:       source,
		TotalItemsMerged: report.Outcome.ItemsMerged,
		Strategy:         StrategyTakeover,
		HadConflicts:     false,
		OriginalSource:   srcID,
		OriginalTarget:   tgtID,
	})
	return report, nil
}

// Merge combines the source cart into the target item by item under the
// strategy, persists the target, and discards the source record.
func (m *MigrationUsecase) Merge(ctx context.Context, sourceID, targetID, instance string, strategy cartdom.MergeStrategy) (*MergeReport, error) {
	srcID, tgtID, inst, err := normalizeMigrationKey(sourceID, targetID, instance)
	if err != nil {
		return nil, err
	}
	if _, err := cartdom.ParseMergeStrategy(string(strategy)); err != nil {
		return nil, err
	}

	report := &MergeReport{Strategy: strategy}

	sourceExists, err := m.storage.Has(ctx, srcID, inst)
	if err != nil {
		return nil, err
	}
	report.SourceExisted = sourceExists
	if !sourceExists {
		target, err := m.loadOrEmpty(ctx, tgtID, inst)
		if err != nil {
			return nil, err
		}
		report.Target = target
		return report, nil
	}

	source, err := m.loadCart(ctx, srcID, inst)
	if err != nil {
		return nil, err
	}
	target, err := m.loadOrEmpty(ctx, tgtID, inst)
	if err != nil {
		return nil, err
	}

	outcome, err := target.MergeFrom(source, strategy)
	if err != nil {
		return nil, err
	}
	report.Outcome = outcome
	report.Target = target

	if err := m.saveCart(ctx, target); err != nil {
		return nil, err
	}

	report.Cleanup = m.forget(ctx, srcID, inst)

	m.dispatcher.Dispatch(ctx, cartdom.CartMerged{
		TargetCart:       target,
		SourceCart:       source,
		TotalItemsMerged: outcome.ItemsMerged,
		Strategy:         strategy,
		HadConflicts:     outcome.HadConflicts,
		OriginalSource:   srcID,
		OriginalTarget:   tgtID,
	})
	return report, nil
}

// ----------------------------
// Internals
// ----------------------------

func normalizeMigrationKey(sourceID, targetID, instance string) (string, string, string, error) {
	src, inst, err := normalizeKey(sourceID, instance)
	if err != nil {
		return "", "", "", ErrMigrationInvalidArgument
	}
	tgt, _, err := normalizeKey(targetID, instance)
	if err != nil {
		return "", "", "", ErrMigrationInvalidArgument
	}
	if src == tgt {
		return "", "", "", ErrMigrationSameIdentifier
	}
	return src, tgt, inst, nil
}

func (m *MigrationUsecase) loadCart(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	items, err := m.storage.GetItems(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	conds, err := m.storage.GetConditions(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	meta, err := m.storage.GetMetadata(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	return cartdom.FromRecords(identifier, instance, items, conds, meta, cartdom.LoadOptions{
		AllowStacking: m.opts.AllowStacking,
		Registry:      m.registry,
	})
}

func (m *MigrationUsecase) loadOrEmpty(ctx context.Context, identifier, instance string) (*cartdom.Cart, error) {
	exists, err := m.storage.Has(ctx, identifier, instance)
	if err != nil {
		return nil, err
	}
	if exists {
		return m.loadCart(ctx, identifier, instance)
	}
	c, err := cartdom.New(identifier, instance)
	if err != nil {
		return nil, err
	}
	c.SetAllowStacking(m.opts.AllowStacking)
	return c, nil
}

func (m *MigrationUsecase) saveCart(ctx context.Context, c *cartdom.Cart) error {
	items, conds, meta := c.ToRecords()

	write := func(ctx context.Context) error {
		if err := m.storage.PutItems(ctx, c.Identifier(), c.Instance(), items); err != nil {
			return err
		}
		if err := m.storage.PutConditions(ctx, c.Identifier(), c.Instance(), conds); err != nil {
			return err
		}
		return m.storage.PutMetadata(ctx, c.Identifier(), c.Instance(), meta)
	}

	if txs, ok := m.storage.(cartdom.Transactional); ok {
		return txs.WithinTransaction(ctx, write)
	}
	return write(ctx)
}

// forget drops the orphaned source record. Failure is reported in the
// outcome and logged so it stays observable, but never blocks the flow.
func (m *MigrationUsecase) forget(ctx context.Context, identifier, instance string) CleanupOutcome {
	out := CleanupOutcome{Attempted: true}
	if err := m.storage.Forget(ctx, identifier, instance); err != nil {
		out.Err = err
		log.Printf("[cart_migration] cleanup failed identifier=%s instance=%s err=%v", identifier, instance, err)
		return out
	}
	out.OK = true
	return out
}
