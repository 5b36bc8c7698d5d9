// Package masterclient implements the coordinator's MasterClient
// collaborator: pushing a master's assigned tablets to it over the wire
// whenever the coordinator changes what that master owns. See doc.go
// for the full package documentation.
package masterclient

import (
	"context"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

// Recipient names the master a tablet set is pushed to.
type Recipient struct {
	ServerId       cluster.ServerId
	ServiceLocator string
}

// Client is the setTablets collaborator: it hands a master its full
// current tablet set. RecoverPartition and the membership pushes each
// have their own delivery contract; this one is unconditional and
// idempotent, so a caller can always resend the same set safely.
type Client interface {
	SetTablets(ctx context.Context, r Recipient, tablets []tabletmap.Tablet) error
}

// HTTPClient delivers pushes over internal/cluster's HTTP transport.
type HTTPClient struct {
	SetTabletsPath string
}

// NewHTTPClient returns an HTTPClient using the default endpoint path.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{SetTabletsPath: "/setTablets"}
}

type setTabletsBody struct {
	Tablets []tabletmap.Tablet `json:"tablets"`
}

func (c *HTTPClient) SetTablets(ctx context.Context, r Recipient, tablets []tabletmap.Tablet) error {
	session := cluster.Dial(r.ServiceLocator)
	body := setTabletsBody{Tablets: tablets}
	return cluster.Send(ctx, session, c.SetTabletsPath, body, nil)
}
