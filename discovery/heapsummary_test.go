package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hunddb/hunddb-core/hdberr"
)

// stubConn implements grpc.ClientConnInterface with a canned response or
// error, so Summary can be exercised without dialing a real endpoint.
type stubConn struct {
	resp *structpb.Struct
	err  error
}

func (c *stubConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	if c.err != nil {
		return c.err
	}
	out, ok := reply.(*structpb.Struct)
	if !ok {
		return errors.New("unexpected reply type")
	}
	out.Fields = c.resp.GetFields()
	return nil
}

func (c *stubConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streaming not supported by stub")
}

func TestHeapSummaryClientDecodesResponse(t *testing.T) {
	wireResp, err := structpb.NewStruct(map[string]any{
		"pending_triggerables": 3.0,
		"oldest_log_position":  42.0,
	})
	require.NoError(t, err)

	conn := &stubConn{resp: wireResp}
	client := NewHeapSummaryClient(conn)

	resp, err := client.Summary(context.Background(), HeapSummaryRequest{NodeName: "node-a"})
	require.NoError(t, err)
	require.Equal(t, int64(3), resp.PendingTriggerables)
	require.Equal(t, uint64(42), resp.OldestLogPosition)
}

func TestHeapSummaryClientWrapsRPCError(t *testing.T) {
	conn := &stubConn{err: errors.New("connection refused")}
	client := NewHeapSummaryClient(conn)

	_, err := client.Summary(context.Background(), HeapSummaryRequest{NodeName: "node-a"})
	require.Error(t, err)
	require.Equal(t, hdberr.Internal, hdberr.CodeOf(err))
}
