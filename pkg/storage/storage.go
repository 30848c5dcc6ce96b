// Package storage defines the object storage port used for generated
// illustrations and its S3 and mock implementations.
package storage

import "context"

// Store is the object storage port. Upload returns the public URL the
// stored object is served from.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
