// Package media turns asset keys into playable references.
//
// Two backends exist: StoredBackend reads the asset store and allocates a
// revocable reference per call, ConfiguredBackend hands out fixed paths from
// configuration. One of them is chosen at startup by New and never changes.
package media

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/keepsake/internal/observe"
	"github.com/felixgeelhaar/keepsake/internal/store"
)

// Backend names a resolver implementation.
type Backend string

const (
	BackendStored     Backend = "stored"
	BackendConfigured Backend = "configured"
)

// Resolver maps asset keys to references. Missing assets resolve to absent
// rather than an error.
type Resolver interface {
	IsReady(ctx context.Context) bool
	ResolveOne(ctx context.Context, key store.AssetKey) (Reference, bool)
	ResolveMany(ctx context.Context, key store.AssetKey) []Reference
	Backend() Backend
}

// Paths is the static media mapping used by ConfiguredBackend.
type Paths struct {
	AmbientTrack  string   `yaml:"ambient_track" env:"AMBIENT_TRACK"`
	TerminalTrack string   `yaml:"terminal_track" env:"TERMINAL_TRACK"`
	SinglePhoto   string   `yaml:"single_photo" env:"SINGLE_PHOTO"`
	GalleryPhotos []string `yaml:"gallery_photos" env:"GALLERY_PHOTOS" envSeparator:","`
}

// New selects the backend once.
func New(kind Backend, s store.AssetStore, reg *Registry, paths Paths, obs *observe.Observer) (Resolver, error) {
	if obs == nil {
		obs = observe.Discard()
	}
	switch kind {
	case BackendStored:
		if s == nil {
			return nil, fmt.Errorf("stored backend requires an asset store")
		}
		if reg == nil {
			reg = NewRegistry()
		}
		return &StoredBackend{store: s, registry: reg, observe: obs}, nil
	case BackendConfigured:
		return &ConfiguredBackend{paths: paths}, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q (use stored or configured)", kind)
	}
}

// StoredBackend resolves from the asset store. It never writes to it.
type StoredBackend struct {
	store    store.AssetStore
	registry *Registry
	observe  *observe.Observer
}

func NewStoredBackend(s store.AssetStore, reg *Registry, obs *observe.Observer) *StoredBackend {
	if obs == nil {
		obs = observe.Discard()
	}
	return &StoredBackend{store: s, registry: reg, observe: obs}
}

func (b *StoredBackend) Backend() Backend { return BackendStored }

func (b *StoredBackend) IsReady(ctx context.Context) bool {
	ready, err := b.store.IsReady(ctx)
	if err != nil {
		b.observe.Log().Warn().Err(err).Msg("readiness check failed, treating store as not ready")
		return false
	}
	return ready
}

func (b *StoredBackend) ResolveOne(ctx context.Context, key store.AssetKey) (Reference, bool) {
	ctx, span := b.observe.StartSpan(ctx, "media.ResolveOne", attribute.String("key", string(key)))
	defer span.End()

	if !key.IsRecord() {
		return Reference{}, false
	}
	rec, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.observe.Log().Warn().Str("key", string(key)).Err(err).Msg("failed to read asset")
		return Reference{}, false
	}
	if !ok {
		b.observe.Log().Debug().Str("key", string(key)).Msg("asset missing")
		return Reference{}, false
	}
	return b.registry.Create(rec), true
}

func (b *StoredBackend) ResolveMany(ctx context.Context, key store.AssetKey) []Reference {
	ctx, span := b.observe.StartSpan(ctx, "media.ResolveMany", attribute.String("key", string(key)))
	defer span.End()

	if !key.IsCollection() {
		return []Reference{}
	}
	recs, err := b.store.GetCollection(ctx, key)
	if err != nil {
		b.observe.Log().Warn().Str("key", string(key)).Err(err).Msg("failed to read asset collection")
		return []Reference{}
	}
	refs := make([]Reference, 0, len(recs))
	for _, rec := range recs {
		refs = append(refs, b.registry.Create(rec))
	}
	return refs
}

// ConfiguredBackend serves fixed paths. References never need releasing.
type ConfiguredBackend struct {
	paths Paths
}

func NewConfiguredBackend(paths Paths) *ConfiguredBackend {
	return &ConfiguredBackend{paths: paths}
}

func (b *ConfiguredBackend) Backend() Backend { return BackendConfigured }

// IsReady is always true: a static deployment has no upload phase.
func (b *ConfiguredBackend) IsReady(context.Context) bool { return true }

func (b *ConfiguredBackend) ResolveOne(_ context.Context, key store.AssetKey) (Reference, bool) {
	var path string
	switch key {
	case store.AmbientTrack:
		path = b.paths.AmbientTrack
	case store.TerminalTrack:
		path = b.paths.TerminalTrack
	case store.SinglePhoto:
		path = b.paths.SinglePhoto
	}
	if path == "" {
		return Reference{}, false
	}
	return Reference{URL: path}, true
}

func (b *ConfiguredBackend) ResolveMany(_ context.Context, key store.AssetKey) []Reference {
	if key != store.GalleryPhotos {
		return []Reference{}
	}
	refs := make([]Reference, 0, len(b.paths.GalleryPhotos))
	for _, p := range b.paths.GalleryPhotos {
		if p != "" {
			refs = append(refs, Reference{URL: p})
		}
	}
	return refs
}
