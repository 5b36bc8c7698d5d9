package recovery

import (
	"context"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
	"github.com/leishou0891/RAMCloud/internal/willpartition"
)

// HTTPEngine dispatches each partition to its recovery master over
// HTTP, POSTing to RecoverPartitionPath on the owner's service locator.
// The master is expected to apply the partition and report completion
// back to the coordinator asynchronously via TabletsRecovered, matching
// HintServerDown's own early-return pattern: RecoverPartition itself
// only needs to hand the partition off, not wait out the replay.
type HTTPEngine struct {
	RecoverPartitionPath string
}

// NewHTTPEngine returns an HTTPEngine using the default endpoint path.
func NewHTTPEngine() *HTTPEngine {
	return &HTTPEngine{RecoverPartitionPath: "/recoverPartition"}
}

type recoverPartitionBody struct {
	DeadServerId cluster.ServerId   `json:"dead_server_id"`
	Tablets      []tabletmap.Tablet `json:"tablets"`
}

func (e *HTTPEngine) RecoverPartition(ctx context.Context, deadServerId cluster.ServerId, partition willpartition.Partition) error {
	session := cluster.Dial(partition.Owner.ServiceLocator)
	body := recoverPartitionBody{DeadServerId: deadServerId, Tablets: partition.Tablets}
	return cluster.Send(ctx, session, e.RecoverPartitionPath, body, nil)
}
