package redis

import (
	"negotiation-engine/internal/domain"
)

// channelName is the pub/sub channel for one entity, e.g.
// "negotiation:chain:chain_123".
func channelName(prefix string, ref domain.EntityRef) string {
	return prefix + ":" + string(ref.Kind) + ":" + ref.ID
}
