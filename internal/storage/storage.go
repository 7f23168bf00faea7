package storage

import (
	"context"
	"io"
)

// Uploader stores one object and returns its stored path.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}
