// Package upload writes a media bundle into the asset store and marks it
// ready. It is the only writer of the store.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/keepsake/internal/guard"
	"github.com/felixgeelhaar/keepsake/internal/observe"
	"github.com/felixgeelhaar/keepsake/internal/store"
)

// UserMessage is the only failure text shown to the person uploading.
const UserMessage = "Upload failed. Please try again."

var (
	// ErrUploadFailed wraps read and storage failures. The store is left not
	// ready and the upload can simply be repeated.
	ErrUploadFailed = errors.New("upload failed")
	// ErrInvalidBundle means the bundle was rejected before anything was
	// written.
	ErrInvalidBundle = errors.New("invalid upload bundle")
)

// Bundle names the files to upload.
type Bundle struct {
	Ambient  string
	Terminal string
	Photo    string
	Gallery  []string
}

// Uploader validates bundles against the media policy and writes them.
type Uploader struct {
	store   store.AssetStore
	guard   *guard.Guard
	observe *observe.Observer
}

func New(s store.AssetStore, g *guard.Guard, obs *observe.Observer) *Uploader {
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &Uploader{store: s, guard: g, observe: obs}
}

// Validate checks the bundle without reading any file. It returns the
// gallery that will actually be stored.
func (u *Uploader) Validate(b Bundle) ([]string, error) {
	var problems []string
	need := func(name, path string, check func(string) *guard.Violation) {
		if strings.TrimSpace(path) == "" {
			problems = append(problems, name+" is required")
			return
		}
		if v := check(path); v != nil {
			problems = append(problems, v.Message)
		}
	}
	need("ambient track", b.Ambient, u.guard.CheckAudioFile)
	need("terminal track", b.Terminal, u.guard.CheckAudioFile)
	need("photo", b.Photo, u.guard.CheckImageFile)

	gallery := b.Gallery
	for _, p := range gallery {
		if v := u.guard.CheckImageFile(p); v != nil {
			problems = append(problems, v.Message)
		}
	}
	if v := u.guard.CheckGallery(len(gallery)); v != nil {
		if v.Fatal {
			problems = append(problems, v.Message)
		} else {
			u.observe.Log().Warn().Int("count", len(gallery)).Msg(v.Message)
			gallery = gallery[:u.guard.Policy().MaxGalleryPhotos]
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBundle, strings.Join(problems, "; "))
	}
	return gallery, nil
}

// Upload writes ambient, terminal, photo and gallery in that order and marks
// the store ready only after all four succeeded.
func (u *Uploader) Upload(ctx context.Context, b Bundle) error {
	ctx, span := u.observe.StartSpan(ctx, "upload.Upload", attribute.Int("gallery", len(b.Gallery)))
	defer span.End()

	gallery, err := u.Validate(b)
	if err != nil {
		return err
	}

	singles := []struct {
		key  store.AssetKey
		path string
	}{
		{store.AmbientTrack, b.Ambient},
		{store.TerminalTrack, b.Terminal},
		{store.SinglePhoto, b.Photo},
	}
	for _, s := range singles {
		rec, err := readRecord(s.path)
		if err != nil {
			return u.fail(s.key, err)
		}
		if err := u.store.Put(ctx, s.key, rec); err != nil {
			return u.fail(s.key, err)
		}
		u.observe.Log().Debug().Str("key", string(s.key)).Str("file", rec.OriginalName).Msg("stored")
	}

	recs := make([]store.AssetRecord, 0, len(gallery))
	for _, p := range gallery {
		rec, err := readRecord(p)
		if err != nil {
			return u.fail(store.GalleryPhotos, err)
		}
		recs = append(recs, rec)
	}
	if err := u.store.PutMany(ctx, store.GalleryPhotos, recs); err != nil {
		return u.fail(store.GalleryPhotos, err)
	}

	if err := u.store.MarkReady(ctx); err != nil {
		return u.fail(store.UploadedFlag, err)
	}
	u.observe.Log().Info().Int("gallery", len(recs)).Msg("upload complete")
	return nil
}

func (u *Uploader) fail(key store.AssetKey, err error) error {
	u.observe.Log().Error().Str("key", string(key)).Err(err).Msg("upload failed")
	return fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
}

// ExpandGallery expands glob patterns such as photos/**/*.jpg. Each
// pattern's matches are sorted; plain paths are kept as given. Duplicates
// are dropped.
func ExpandGallery(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad gallery pattern %q: %w", pattern, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func readRecord(path string) (store.AssetRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the person uploading
	if err != nil {
		return store.AssetRecord{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return store.AssetRecord{
		Payload:      data,
		MimeType:     detectMIME(path, data),
		OriginalName: filepath.Base(path),
	}, nil
}

// audioTypes covers extensions the system MIME table often lacks.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
}

// detectMIME trusts the extension first and sniffs the content otherwise.
func detectMIME(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
