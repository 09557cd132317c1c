package domain

import (
	"context"
)

// Resyncer re-queries entities whose last refresh failed.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// ResyncScheduler periodically drives registered Resyncers.
type ResyncScheduler interface {
	Register(name string, r Resyncer)
	Unregister(name string)
	Start(ctx context.Context) error
	Stop() error
}
