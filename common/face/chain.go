package face

import (
	"context"

	"github.com/grigorimaxim422/atom/common"
)

// ChainReader is the read side of the chain used by the metagraph and
// the neuron backbones. Readers return common.ErrNotFound when the
// queried storage entry is empty.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubnetworkN(ctx context.Context, netuid common.NetUID) (uint16, error)
	KeyForUID(ctx context.Context, netuid common.NetUID, uid common.UID) (common.AccountID, error)
	UIDForKey(ctx context.Context, netuid common.NetUID, key common.AccountID) (common.UID, error)
	AxonFor(ctx context.Context, netuid common.NetUID, key common.AccountID) (*common.AxonInfo, error)
	StakeFor(ctx context.Context, key common.AccountID) (uint64, error)
	Tempo(ctx context.Context, netuid common.NetUID) (uint16, error)
	ValidatorPermits(ctx context.Context, netuid common.NetUID) ([]bool, error)
}

// ChainWriter submits signed extrinsics. Both calls return the
// extrinsic hash once the transaction is accepted by the node.
type ChainWriter interface {
	SetWeights(ctx context.Context, netuid common.NetUID, uids []common.UID, weights []uint16, versionKey uint64) (string, error)
	ServeAxon(ctx context.Context, netuid common.NetUID, axon *common.AxonInfo) (string, error)
}

type ChainRw interface {
	ChainReader
	ChainWriter
}

// SyncStatus gates work that must wait for the first metagraph sync.
type SyncStatus interface {
	Done() bool
}
