// Package handlers moves subnet artifacts between the node and remote
// content stores. Validators publish scoring files under their hotkey;
// anyone can fetch them back by key or revision.
package handlers

import "context"

// Handler is the common face of the content stores. Get fetches the
// object named by key into the local file at dst; Put publishes the
// local file at src under location and returns the remote name or
// revision that now holds it. What key and location mean is up to the
// implementation.
type Handler interface {
	Get(ctx context.Context, key, dst string) error
	Put(ctx context.Context, src, location string) (string, error)
}
