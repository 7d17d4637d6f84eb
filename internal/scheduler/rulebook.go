package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"carewatch-backend/internal/metrics"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

// DefinitionStore is the persisted rule catalog.
type DefinitionStore interface {
	Definitions(ctx context.Context) ([]rules.Definition, error)
	MarkInvalid(ctx context.Context, id string, verr *rules.ValidationError) error
}

// RuleBook holds the active rule set. Reload builds a new set and swaps it in,
// so evaluations in flight keep the snapshot they started with.
type RuleBook struct {
	registry *rules.Registry
	store    DefinitionStore
	file     string
	logger   log.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[rules.Set]
}

func NewRuleBook(registry *rules.Registry, store DefinitionStore, file string, logger log.Logger) *RuleBook {
	if registry == nil {
		registry = rules.DefaultRegistry()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	b := &RuleBook{registry: registry, store: store, file: file, logger: logger}
	b.current.Store(rules.NewSet(registry, nil))
	return b
}

func (b *RuleBook) Registry() *rules.Registry { return b.registry }

func (b *RuleBook) Snapshot() *rules.Set { return b.current.Load() }

func (b *RuleBook) Active() []rules.Rule { return b.Snapshot().Active() }

func (b *RuleBook) Get(id string) (rules.Rule, bool) { return b.Snapshot().Get(id) }

// Reload merges the rules file and the store, store winning on equal ids.
// When both sources fail the previous set stays active.
func (b *RuleBook) Reload(ctx context.Context) (*rules.Set, error) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	var (
		errs     []error
		fileDefs []rules.Definition
		dbDefs   []rules.Definition
		loaded   int
	)
	if b.file != "" {
		defs, err := rules.LoadFile(b.file)
		if err != nil {
			errs = append(errs, err)
		} else {
			fileDefs = defs
			loaded++
		}
	}
	if b.store != nil {
		defs, err := b.store.Definitions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("scheduler.RuleBook.Reload: store: %w", err))
		} else {
			dbDefs = defs
			loaded++
		}
	}
	if loaded == 0 && len(errs) > 0 {
		return b.Snapshot(), errors.Join(errs...)
	}
	set := b.apply(ctx, fileDefs, dbDefs)
	return set, errors.Join(errs...)
}

// ReplaceFile swaps in new file definitions, e.g. from rules.Watch, and keeps store rules.
func (b *RuleBook) ReplaceFile(ctx context.Context, fileDefs []rules.Definition) *rules.Set {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	var dbDefs []rules.Definition
	if b.store != nil {
		defs, err := b.store.Definitions(ctx)
		if err != nil {
			b.logger.Warnf(ctx, "scheduler.RuleBook.ReplaceFile: store unavailable, using file rules only: %v", err)
		}
		dbDefs = defs
	}
	return b.apply(ctx, fileDefs, dbDefs)
}

func (b *RuleBook) apply(ctx context.Context, fileDefs, dbDefs []rules.Definition) *rules.Set {
	fromStore := make(map[string]bool, len(dbDefs))
	for _, def := range dbDefs {
		fromStore[def.ID] = true
	}
	merged := make([]rules.Definition, 0, len(fileDefs)+len(dbDefs))
	for _, def := range fileDefs {
		if !fromStore[def.ID] {
			merged = append(merged, def)
		}
	}
	merged = append(merged, dbDefs...)

	set := rules.NewSet(b.registry, merged)
	for id, verr := range set.Invalid() {
		b.logger.Warnf(ctx, "scheduler.RuleBook: rule %s rejected: %v", id, verr)
		if b.store != nil && fromStore[id] {
			if err := b.store.MarkInvalid(ctx, id, verr); err != nil {
				b.logger.Errorf(ctx, "scheduler.RuleBook: mark %s invalid: %v", id, err)
			}
		}
	}
	b.current.Store(set)
	metrics.ActiveRules.Set(float64(len(set.Active())))
	metrics.InvalidRules.Set(float64(len(set.Invalid())))
	b.logger.Infof(ctx, "scheduler.RuleBook: %d active rules, %d invalid", len(set.Active()), len(set.Invalid()))
	return set
}
