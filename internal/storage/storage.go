// Package storage persists uploaded profile images and returns their public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object describes an upload to persist.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ObjectStore saves objects and resolves them to public URLs.
type ObjectStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ExtensionFor maps an image media type to the extension stored objects carry.
// Unknown types get none.
func ExtensionFor(contentType string) string {
	return imageExtensions[strings.ToLower(contentType)]
}

// NewObjectKey builds a unique date-partitioned key whose extension follows
// contentType. Client filenames never reach the key.
func NewObjectKey(contentType string, now time.Time) string {
	return fmt.Sprintf("profile-images/%d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ExtensionFor(contentType))
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
