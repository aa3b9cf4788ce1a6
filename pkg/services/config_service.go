package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streamhub/core/pkg/configstore"
	"github.com/streamhub/core/pkg/mapping"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/pattern"
)

// ConfigService owns admin mutations of mappings and patterns. Every
// change is admitted into the live in-memory engines first (so an
// invalid config never reaches disk) and then written through to the
// persistent store. The store may be nil for ephemeral deployments;
// mutations then live only until restart.
type ConfigService struct {
	mappings *mapping.MappingSet
	patterns *pattern.PatternSet
	store    configstore.Store
}

// NewConfigService wires the service. store may be nil.
func NewConfigService(mappings *mapping.MappingSet, patterns *pattern.PatternSet, store configstore.Store) *ConfigService {
	return &ConfigService{mappings: mappings, patterns: patterns, store: store}
}

// LoadFromStore populates the in-memory engines from the persistent
// store at boot. A stored config that no longer passes admission is
// skipped with a log line rather than failing startup — the remaining
// rules should still run.
func (s *ConfigService) LoadFromStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	mappings, err := s.store.LoadMappings(ctx)
	if err != nil {
		return fmt.Errorf("load mappings: %w", err)
	}
	for _, cfg := range mappings {
		if err := s.mappings.Put(cfg); err != nil {
			slog.Warn("Skipping stored mapping that fails admission", "mapping_id", cfg.ID, "error", err)
		}
	}

	patterns, err := s.store.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	for _, p := range patterns {
		if err := s.patterns.Put(p); err != nil {
			slog.Warn("Skipping stored pattern that fails admission", "pattern_id", p.ID, "error", err)
		}
	}

	slog.Info("Configuration loaded from store", "mappings", len(mappings), "patterns", len(patterns))
	return nil
}

// ListMappings returns every admitted mapping config, sorted by id.
func (s *ConfigService) ListMappings() []model.MappingConfig {
	all := s.mappings.All()
	out := make([]model.MappingConfig, len(all))
	for i, m := range all {
		out[i] = m.Config
	}
	return out
}

// GetMapping returns one mapping config by id.
func (s *ConfigService) GetMapping(id string) (model.MappingConfig, error) {
	m, ok := s.mappings.Get(id)
	if !ok {
		return model.MappingConfig{}, ErrNotFound
	}
	return m.Config, nil
}

// UpsertMapping admits cfg into the live set and writes it through to
// the store.
func (s *ConfigService) UpsertMapping(ctx context.Context, cfg model.MappingConfig) error {
	if err := s.mappings.Put(cfg); err != nil {
		if errors.Is(err, mapping.ErrInvalid) {
			return &ValidationError{Resource: "mapping", ID: cfg.ID, Err: err}
		}
		return err
	}
	if s.store != nil {
		if err := s.store.SaveMapping(ctx, cfg); err != nil {
			return fmt.Errorf("persist mapping %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// DeleteMapping removes a mapping from the live set and the store.
func (s *ConfigService) DeleteMapping(ctx context.Context, id string) error {
	if _, ok := s.mappings.Get(id); !ok {
		return ErrNotFound
	}
	s.mappings.Remove(id)
	if s.store != nil {
		if err := s.store.DeleteMapping(ctx, id); err != nil {
			return fmt.Errorf("delete mapping %s: %w", id, err)
		}
	}
	return nil
}

// ListPatterns returns every admitted pattern, sorted by id.
func (s *ConfigService) ListPatterns() []model.Pattern {
	all := s.patterns.All()
	out := make([]model.Pattern, len(all))
	for i, p := range all {
		out[i] = *p
	}
	return out
}

// GetPattern returns one pattern by id.
func (s *ConfigService) GetPattern(id string) (model.Pattern, error) {
	p, ok := s.patterns.Get(id)
	if !ok {
		return model.Pattern{}, ErrNotFound
	}
	return *p, nil
}

// UpsertPattern admits p into the live set and writes it through to the
// store.
func (s *ConfigService) UpsertPattern(ctx context.Context, p model.Pattern) error {
	if err := s.patterns.Put(p); err != nil {
		return &ValidationError{Resource: "pattern", ID: p.ID, Err: err}
	}
	if s.store != nil {
		if err := s.store.SavePattern(ctx, p); err != nil {
			return fmt.Errorf("persist pattern %s: %w", p.ID, err)
		}
	}
	return nil
}

// DeletePattern removes a pattern from the live set and the store.
func (s *ConfigService) DeletePattern(ctx context.Context, id string) error {
	if _, ok := s.patterns.Get(id); !ok {
		return ErrNotFound
	}
	s.patterns.Remove(id)
	if s.store != nil {
		if err := s.store.DeletePattern(ctx, id); err != nil {
			return fmt.Errorf("delete pattern %s: %w", id, err)
		}
	}
	return nil
}
