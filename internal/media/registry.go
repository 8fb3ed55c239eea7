package media

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/keepsake/internal/store"
)

const blobScheme = "blob:keepsake/"

// Reference is a playable handle for one asset.
type Reference struct {
	URL     string
	release func()
}

// Release frees the resources behind the reference. Only the first call has
// an effect; the URL is invalid afterwards. Configured references have nothing
// to release.
func (r Reference) Release() {
	if r.release != nil {
		r.release()
	}
}

// Registry holds the blobs behind stored references, like a table of object
// URLs. Each Create allocates a new entry regardless of content.
type Registry struct {
	mu      sync.RWMutex
	baseURL string
	entries map[string]store.AssetRecord
}

// NewRegistry creates an empty registry that hands out blob: URLs.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]store.AssetRecord)}
}

// SetBaseURL makes later references point at an HTTP server serving the
// registry (see Server). An empty base restores blob: URLs.
func (r *Registry) SetBaseURL(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseURL = strings.TrimRight(base, "/")
}

// Create registers rec and returns a reference to it.
func (r *Registry) Create(rec store.AssetRecord) Reference {
	id := uuid.NewString()

	r.mu.Lock()
	r.entries[id] = rec
	url := blobScheme + id
	if r.baseURL != "" {
		url = r.baseURL + "/blob/" + id
	}
	r.mu.Unlock()

	var once sync.Once
	return Reference{
		URL:     url,
		release: func() { once.Do(func() { r.Revoke(id) }) },
	}
}

// Revoke drops the entry for id. Unknown ids are ignored.
func (r *Registry) Revoke(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the record registered under id.
func (r *Registry) Lookup(id string) (store.AssetRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	return rec, ok
}

// LookupURL resolves a URL previously returned by Create.
func (r *Registry) LookupURL(url string) (store.AssetRecord, bool) {
	i := strings.LastIndex(url, "/")
	if i < 0 {
		return store.AssetRecord{}, false
	}
	return r.Lookup(url[i+1:])
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
