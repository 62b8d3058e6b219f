package transport

import (
	"context"

	"github.com/roach88/syncreducer/internal/protocol"
)

// Network is everything a sync client needs from the outside world. A
// client owns its Network and closes it when the client closes.
type Network interface {
	// SubscribeToPoke calls fn for pokes of spaceID until unsubscribe is
	// called. Delivery is best effort.
	SubscribeToPoke(ctx context.Context, spaceID string, fn func(protocol.PokeMessage)) (unsubscribe func(), err error)

	Pull(ctx context.Context, req protocol.PullRequest) (protocol.PullResponse, error)
	Push(ctx context.Context, req protocol.PushRequest) (protocol.PushResponse, error)
	GetLatestSnapshot(ctx context.Context, req protocol.SnapshotRequest) (protocol.SnapshotResponse, error)
	CreateSnapshot(ctx context.Context, req protocol.CreateSnapshotRequest) (protocol.CreateSnapshotResponse, error)

	// Close releases the network. Subscriptions end.
	Close() error
}
