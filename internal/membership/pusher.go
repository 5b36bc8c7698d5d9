package membership

import (
	"context"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
)

// HTTPPusher delivers pushes over the cluster package's HTTP transport.
// It expects a membership subscriber to expose two endpoints under its
// service locator: incrementalPath and fullListPath.
type HTTPPusher struct {
	IncrementalPath string
	FullListPath    string
}

// NewHTTPPusher returns an HTTPPusher using the default endpoint paths.
func NewHTTPPusher() *HTTPPusher {
	return &HTTPPusher{
		IncrementalPath: "/membership/incremental",
		FullListPath:    "/membership/full",
	}
}

type incrementalPushBody struct {
	Version uint64                   `json:"version"`
	Records []serverlist.DeltaRecord `json:"records"`
}

type fullListPushBody struct {
	Version uint64                   `json:"version"`
	Entries []serverlist.ServerEntry `json:"entries"`
}

type pushReply struct {
	Status string `json:"status"` // "ok" or "lost_update"
}

func (p *HTTPPusher) PushIncremental(ctx context.Context, r Recipient, delta serverlist.Delta) (PushResult, error) {
	session := cluster.Dial(r.ServiceLocator)
	var reply pushReply
	body := incrementalPushBody{Version: delta.Version, Records: delta.Records}
	if err := cluster.Send(ctx, session, p.IncrementalPath, body, &reply); err != nil {
		return 0, err
	}
	return parseReply(reply), nil
}

func (p *HTTPPusher) PushFullList(ctx context.Context, r Recipient, entries []serverlist.ServerEntry, version uint64) (PushResult, error) {
	session := cluster.Dial(r.ServiceLocator)
	var reply pushReply
	body := fullListPushBody{Version: version, Entries: entries}
	if err := cluster.Send(ctx, session, p.FullListPath, body, &reply); err != nil {
		return 0, err
	}
	return parseReply(reply), nil
}

func parseReply(reply pushReply) PushResult {
	if reply.Status == "lost_update" {
		return ResultLostUpdate
	}
	return ResultOK
}
