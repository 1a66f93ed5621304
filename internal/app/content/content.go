// Package content stores image bytes for users and petitions. Keys are
// `petition_<id>.<ext>` or `user_<id>.<ext>` and the extension decides the
// MIME type served back.
package content

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/R3E-Network/petition_service/internal/config"
)

// ErrNotFound is returned by Read and Delete when the key holds nothing.
var ErrNotFound = errors.New("content not found")

// ErrStale marks an old blob Replace could not remove after the new key was
// committed. The replacement itself took effect.
var ErrStale = errors.New("stale content left behind")

// Store persists opaque image blobs.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/gif":  "gif",
}

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
}

var keyPattern = regexp.MustCompile(`^(petition|user)_[0-9]+\.(png|jpeg|gif)$`)

// ExtensionFor maps a request Content-Type to the stored file extension.
// Parameters such as charset are ignored.
func ExtensionFor(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "", false
	}
	ext, ok := extensions[strings.ToLower(mediaType)]
	return ext, ok
}

// MimeFor returns the MIME type implied by key's extension.
func MimeFor(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// PetitionKey names a petition's hero image.
func PetitionKey(petitionID int64, ext string) string {
	return fmt.Sprintf("petition_%d.%s", petitionID, ext)
}

// UserKey names a user's profile image.
func UserKey(userID int64, ext string) string {
	return fmt.Sprintf("user_%d.%s", userID, ext)
}

// ValidKey reports whether key is a name this package produces.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid content key %q", key)
	}
	return nil
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.ContentConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "fs":
		store, err = NewFSStore(cfg.Dir)
	case "bolt":
		store, err = NewBoltStore(cfg.BoltPath)
	case "gcs":
		store, err = NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
	default:
		err = fmt.Errorf("unsupported content backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Replace writes data under newKey and then runs commit to point the owner
// at it. oldKey is removed only after commit succeeds; when commit fails the
// new blob is removed again (unless it overwrote oldKey) and commit's error
// is returned unchanged. A missing old blob is not an error.
func Replace(ctx context.Context, store Store, oldKey, newKey string, data []byte, commit func() error) error {
	if err := store.Write(ctx, newKey, data); err != nil {
		return fmt.Errorf("write %s: %w", newKey, err)
	}
	if err := commit(); err != nil {
		if newKey != oldKey {
			_ = store.Delete(ctx, newKey)
		}
		return err
	}
	if oldKey == "" || oldKey == newKey {
		return nil
	}
	if err := store.Delete(ctx, oldKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrStale, oldKey, err)
	}
	return nil
}
