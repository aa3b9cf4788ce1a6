// Package configstore is the persistent store boundary (mappings and
// patterns survive restarts; nothing else does). It is read once at boot
// and written through on admin mutation — runtime event evaluation never
// touches it.
package configstore

import (
	"context"

	"github.com/streamhub/core/pkg/model"
)

// Store persists mapping and pattern configuration. Implementations must
// round-trip both structures losslessly (they are stored as their JSON
// wire shape).
type Store interface {
	LoadMappings(ctx context.Context) ([]model.MappingConfig, error)
	LoadPatterns(ctx context.Context) ([]model.Pattern, error)

	SaveMapping(ctx context.Context, m model.MappingConfig) error
	SavePattern(ctx context.Context, p model.Pattern) error

	DeleteMapping(ctx context.Context, id string) error
	DeletePattern(ctx context.Context, id string) error

	Close() error
}
