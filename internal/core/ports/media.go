package ports

import (
	"context"

	"confload/internal/core/domain"
)

// MediaEngine is the media-plane collaborator one virtual user owns.
type MediaEngine interface {
	// Activate accepts the remote session descriptor and starts
	// sending/receiving media. It returns the local answer descriptor
	// for the signaling layer to deliver.
	Activate(ctx context.Context, offer SessionDescriptor) (SessionDescriptor, error)

	// Deactivate stops all media activity and releases the session.
	// Safe to call when nothing is active.
	Deactivate() error

	// Stats returns a copy of the engine's cumulative counters.
	Stats() domain.MediaCounters
}

// MediaEngineFactory builds one engine per virtual user according to
// the configured media-source policy.
type MediaEngineFactory interface {
	NewEngine(nickname string) MediaEngine
}
