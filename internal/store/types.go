package store

import (
	"context"
	"errors"
	"fmt"
)

// AssetKey names one of the fixed logical assets.
type AssetKey string

const (
	AmbientTrack  AssetKey = "ambientTrack"
	TerminalTrack AssetKey = "terminalTrack"
	SinglePhoto   AssetKey = "singlePhoto"
	GalleryPhotos AssetKey = "galleryPhotos"
	UploadedFlag  AssetKey = "uploadedFlag"
)

// Keys lists every asset key in upload order.
var Keys = []AssetKey{AmbientTrack, TerminalTrack, SinglePhoto, GalleryPhotos, UploadedFlag}

// MediaKeys are the keys that hold records (everything but the readiness flag).
var MediaKeys = []AssetKey{AmbientTrack, TerminalTrack, SinglePhoto, GalleryPhotos}

// ParseAssetKey maps a string back to its key.
func ParseAssetKey(s string) (AssetKey, error) {
	for _, k := range Keys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
}

// IsCollection reports whether the key holds an ordered list of records.
func (k AssetKey) IsCollection() bool {
	return k == GalleryPhotos
}

// IsRecord reports whether the key holds a single record.
func (k AssetKey) IsRecord() bool {
	return k == AmbientTrack || k == TerminalTrack || k == SinglePhoto
}

// AssetRecord is one stored blob.
type AssetRecord struct {
	Payload      []byte
	MimeType     string
	OriginalName string
}

func (r AssetRecord) clone() AssetRecord {
	p := make([]byte, len(r.Payload))
	copy(p, r.Payload)
	r.Payload = p
	return r
}

var (
	// ErrStorageIO matches every failure of the underlying storage.
	ErrStorageIO = errors.New("storage i/o failure")
	// ErrInvalidKey is returned when a key is used with the wrong operation.
	ErrInvalidKey = errors.New("invalid asset key")

	errClosed = errors.New("store closed")
)

// StorageError wraps an underlying storage failure. The operation it
// describes was not applied.
type StorageError struct {
	Op  string
	Key AssetKey
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageIO }

func ioError(op string, key AssetKey, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// AssetStore defines durable keyed storage for uploaded media.
type AssetStore interface {
	// Put atomically replaces the record under a single-record key.
	Put(ctx context.Context, key AssetKey, rec AssetRecord) error
	// PutMany atomically replaces the ordered collection under a collection key.
	PutMany(ctx context.Context, key AssetKey, recs []AssetRecord) error
	// Get returns the record for key; false when nothing was written.
	Get(ctx context.Context, key AssetKey) (AssetRecord, bool, error)
	// GetCollection returns the collection in insertion order, possibly empty.
	GetCollection(ctx context.Context, key AssetKey) ([]AssetRecord, error)

	MarkReady(ctx context.Context) error
	IsReady(ctx context.Context) (bool, error)

	// Keys lists the keys that currently hold data.
	Keys(ctx context.Context) ([]AssetKey, error)

	Close() error
}

func checkRecordKey(key AssetKey) error {
	if !key.IsRecord() {
		return fmt.Errorf("%w: %s is not a single-record key", ErrInvalidKey, key)
	}
	return nil
}

func checkCollectionKey(key AssetKey) error {
	if !key.IsCollection() {
		return fmt.Errorf("%w: %s is not a collection key", ErrInvalidKey, key)
	}
	return nil
}
