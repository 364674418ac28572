// Package storage persists analysis artifacts in S3-compatible object
// storage under a `{user}/{task}/{filename}` key convention.
package storage

import (
	"context"
	"path"
	"path/filepath"
	"time"
)

// ObjectStore is the durable artifact store contract.
type ObjectStore interface {
	// SaveFile uploads a local file under an explicit key and returns it.
	SaveFile(ctx context.Context, localPath, key string) (string, error)
	// SaveTaskFile uploads a local file under the task key convention.
	SaveTaskFile(ctx context.Context, userID, taskID, localPath string) (string, error)
	// Delete removes one object.
	Delete(ctx context.Context, key string) error
	// PresignedURL returns a time-limited download URL for an object.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Key builds the canonical object key for a task artifact.
func Key(userID, taskID, filename string) string {
	return path.Join(userID, taskID, filepath.Base(filename))
}
