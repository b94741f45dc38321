package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hunddb/hunddb-core/hdberr"
)

func TestResolverRegisterSelfAndResolve(t *testing.T) {
	r, err := New(Config{NodeName: "node-a", BindAddr: "127.0.0.1", BindPort: 0})
	require.NoError(t, err)
	defer r.Leave()

	r.RegisterSelf("127.0.0.1:9000")

	addr, ok := r.Resolve("node-a")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9000", addr)

	require.Contains(t, r.Endpoints(), "127.0.0.1:9000")
}

func TestResolverForgetOnLeave(t *testing.T) {
	r, err := New(Config{NodeName: "node-b", BindAddr: "127.0.0.1", BindPort: 0})
	require.NoError(t, err)
	defer r.Leave()

	r.RegisterSelf("127.0.0.1:9001")
	r.forget("node-b")

	_, ok := r.Resolve("node-b")
	require.False(t, ok)
}

func TestNewWrapsMemberlistCreateError(t *testing.T) {
	_, err := New(Config{NodeName: "node-c", BindAddr: "not-an-ip", BindPort: 7946})
	require.Error(t, err)
	require.Equal(t, hdberr.Internal, hdberr.CodeOf(err))
}
