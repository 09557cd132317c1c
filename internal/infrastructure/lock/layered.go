package lock

import (
	"context"

	"negotiation-engine/internal/domain"
)

// Layered takes every locker in order and releases them in reverse. A local
// KeyedMutex in front of a RedisChainLock keeps same-process writers off
// Redis while they queue.
type Layered []domain.ChainLocker

func (ls Layered) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(ls))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, l := range ls {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
