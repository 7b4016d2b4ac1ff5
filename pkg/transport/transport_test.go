package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/cuemby/gridrestore/pkg/restore"
	"github.com/cuemby/gridrestore/pkg/security"
	"github.com/cuemby/gridrestore/pkg/storage"
	"github.com/stretchr/testify/require"
)

// testCA wires a real pkg/security.CertAuthority over a temp BoltDB store,
// the same fixture pkg/security's own tests use, and issues node certs off
// it for the client/server pair under test.
func testCA(t *testing.T) *security.CertAuthority {
	t.Helper()
	dir, err := os.MkdirTemp("", "transport-ca-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	key := security.DeriveKeyFromClusterID("transport-test-cluster")
	require.NoError(t, security.SetClusterEncryptionKey(key))

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ca := security.NewCertAuthority(store)
	require.NoError(t, ca.Initialize())
	return ca
}

func rootCert(t *testing.T, ca *security.CertAuthority) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(ca.GetRootCACert())
	require.NoError(t, err)
	return cert
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

// fakeDispatcher is a Dispatcher test double recording every Envelope it
// receives and returning a pre-programmed response or error.
type fakeDispatcher struct {
	received []*Envelope
	resp     *Envelope
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, env *Envelope) (*Envelope, error) {
	f.received = append(f.received, env)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestServer(t *testing.T, ca *security.CertAuthority, disp Dispatcher) (*Server, string) {
	t.Helper()
	cert, err := ca.IssueNodeCertificate("node-server", "server", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	srv, err := NewServer(disp, cert, rootCert(t, ca))
	require.NoError(t, err)

	addr := freeAddr(t)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(addr) }()
	t.Cleanup(func() {
		srv.Stop()
		<-errCh
	})
	return srv, addr
}

func newTestClient(t *testing.T, ca *security.CertAuthority, resolve AddressResolver) *Client {
	t.Helper()
	cert, err := ca.IssueNodeCertificate("node-client", "client", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return NewClient("node-client", resolve, cert, rootCert(t, ca))
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	env := &Envelope{RequestID: "r1", Kind: KindPreload, Payload: []byte(`{"requestId":"r1"}`)}

	data, err := c.Marshal(env)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, env.RequestID, out.RequestID)
	require.Equal(t, env.Kind, out.Kind)
	require.JSONEq(t, string(env.Payload), string(out.Payload))
	require.Equal(t, codecName, c.Name())
}

func TestServerInvokeForwardsToDispatcherAndReturnsResponse(t *testing.T) {
	disp := &fakeDispatcher{resp: &Envelope{RequestID: "r1", Kind: KindPreload}}
	srv := &Server{dispatcher: disp}

	resp, err := srv.Invoke(context.Background(), &Envelope{RequestID: "r1", Kind: KindPreload})
	require.NoError(t, err)
	require.Equal(t, "r1", resp.RequestID)
	require.Len(t, disp.received, 1)
	require.Equal(t, KindPreload, disp.received[0].Kind)
}

func TestServerInvokeConvertsDispatchErrorToEnvelopeError(t *testing.T) {
	disp := &fakeDispatcher{err: errors.New("boom")}
	srv := &Server{dispatcher: disp}

	resp, err := srv.Invoke(context.Background(), &Envelope{RequestID: "r1", Kind: KindRollback})
	require.NoError(t, err)
	require.Equal(t, "boom", resp.Error)
}

func TestClientServerRoundTripOverMTLS(t *testing.T) {
	ca := testCA(t)
	disp := &fakeDispatcher{resp: &Envelope{Kind: KindPreload}}
	_, addr := newTestServer(t, ca, disp)

	client := newTestClient(t, ca, func(nodeID string) (string, error) { return addr, nil })
	env := &Envelope{RequestID: "r1", Kind: KindPreload, Payload: []byte(`{"requestId":"r1"}`)}

	resp, err := client.invoke(context.Background(), addr, env)
	require.NoError(t, err)
	require.Equal(t, KindPreload, resp.Kind)
	require.Len(t, disp.received, 1)
	require.Equal(t, "r1", disp.received[0].RequestID)
}

func TestClientPeerForRoundTripsSimplePhases(t *testing.T) {
	ca := testCA(t)
	disp := &fakeDispatcher{resp: &Envelope{Kind: KindCacheStart}}
	_, addr := newTestServer(t, ca, disp)

	client := newTestClient(t, ca, func(nodeID string) (string, error) { return addr, nil })
	peer := client.PeerFor("node-server")
	require.Equal(t, "node-server", peer.NodeID())

	require.NoError(t, peer.CacheStart(context.Background(), "req-1"))
	require.Len(t, disp.received, 1)
	require.Equal(t, KindCacheStart, disp.received[0].Kind)
}

func TestClientPeerForPreparePropagatesResponse(t *testing.T) {
	ca := testCA(t)
	want := &restore.PrepareResponse{NodeID: "node-server"}
	payload, err := jsonCodec{}.Marshal(want)
	require.NoError(t, err)
	disp := &fakeDispatcher{resp: &Envelope{Kind: KindPrepare, Payload: payload}}
	_, addr := newTestServer(t, ca, disp)

	client := newTestClient(t, ca, func(nodeID string) (string, error) { return addr, nil })
	peer := client.PeerFor("node-server")

	resp, err := peer.Prepare(context.Background(), &restore.OperationRequest{RequestID: "req-1"})
	require.NoError(t, err)
	require.Equal(t, "node-server", resp.NodeID)
}

func TestClientInvokeNodeFailsOnUnresolvableAddress(t *testing.T) {
	client := &Client{resolve: func(nodeID string) (string, error) { return "", errors.New("unknown node") }}
	_, err := client.invokeNode(context.Background(), "missing", &Envelope{Kind: KindPreload})
	require.Error(t, err)
}

func TestEngineDispatcherRoutesJoin(t *testing.T) {
	cluster := &fakeJoinHandler{}
	d := &EngineDispatcher{Cluster: cluster}
	payload, _ := jsonCodec{}.Marshal(joinPayload{NodeID: "node-b", BindAddr: "127.0.0.1:9000"})

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindJoin, Payload: payload})
	require.NoError(t, err)
	require.Equal(t, KindJoin, resp.Kind)
	require.Equal(t, []string{"node-b@127.0.0.1:9000"}, cluster.added)
}

func TestEngineDispatcherRoutesFetchPartitions(t *testing.T) {
	reader := &fakePartitionReader{data: map[int][]byte{0: []byte("p0")}, index: []byte("idx")}
	d := &EngineDispatcher{Partition: reader}
	payload, _ := jsonCodec{}.Marshal(fetchPartitionsPayload{Group: "G", PartitionIDs: []int{0}})

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindFetchPartitions, Payload: payload})
	require.NoError(t, err)

	var fr fetchPartitionsResponse
	require.NoError(t, jsonCodec{}.Unmarshal(resp.Payload, &fr))
	require.Len(t, fr.Files, 2)
}

func TestEngineDispatcherRoutesFinish(t *testing.T) {
	eng := &fakeEngine{}
	d := &EngineDispatcher{Engine: eng}
	payload, _ := jsonCodec{}.Marshal(requestIDPayload{RequestID: "r1"})

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindFinish, Payload: payload})
	require.NoError(t, err)
	require.Equal(t, KindFinish, resp.Kind)
	require.Equal(t, "r1", eng.finishRequestID)
}

func TestEngineDispatcherRoutesUnknownKind(t *testing.T) {
	d := &EngineDispatcher{}
	_, err := d.Dispatch(context.Background(), &Envelope{Kind: Kind("bogus")})
	require.Error(t, err)
}

func TestEngineDispatcherRoutesRestoreStart(t *testing.T) {
	eng := &fakeEngine{}
	d := &EngineDispatcher{Engine: eng}
	payload, _ := jsonCodec{}.Marshal(restoreStartPayload{SnapshotName: "snap-1", Groups: []string{"orders"}, IncrementalIndex: 2})

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindRestoreStart, Payload: payload})
	require.NoError(t, err)
	require.Equal(t, KindRestoreStart, resp.Kind)
	require.Equal(t, "snap-1", eng.startSnapshot)
	require.Equal(t, []string{"orders"}, eng.startGroups)
	require.Equal(t, 2, eng.startIncremental)
}

func TestEngineDispatcherRoutesRestoreCancel(t *testing.T) {
	eng := &fakeEngine{cancelResult: true}
	d := &EngineDispatcher{Engine: eng}
	payload, _ := jsonCodec{}.Marshal(restoreCancelPayload{RequestIDOrSnapshot: "snap-1"})

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindRestoreCancel, Payload: payload})
	require.NoError(t, err)

	var cr restoreCancelResponse
	require.NoError(t, jsonCodec{}.Unmarshal(resp.Payload, &cr))
	require.True(t, cr.Cancelled)
	require.Equal(t, "snap-1", eng.cancelTarget)
}

func TestEngineDispatcherRoutesRestoreStatusIdle(t *testing.T) {
	eng := &fakeEngine{}
	d := &EngineDispatcher{Engine: eng}

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindRestoreStatus})
	require.NoError(t, err)

	var sr restoreStatusResponse
	require.NoError(t, jsonCodec{}.Unmarshal(resp.Payload, &sr))
	require.False(t, sr.Restoring)
}

func TestEngineDispatcherRoutesRestoreStatusActive(t *testing.T) {
	rc := restore.NewContext("req-1", "snap-1", "node-a", nil, []string{"orders"}, 0)
	rc.SetTotalPartitions(4)
	rc.AddProcessedPartitions(1)
	eng := &fakeEngine{context: rc}
	d := &EngineDispatcher{Engine: eng}

	resp, err := d.Dispatch(context.Background(), &Envelope{RequestID: "r1", Kind: KindRestoreStatus})
	require.NoError(t, err)

	var sr restoreStatusResponse
	require.NoError(t, jsonCodec{}.Unmarshal(resp.Payload, &sr))
	require.True(t, sr.Restoring)
	require.Equal(t, "snap-1", sr.SnapshotName)
	require.EqualValues(t, 1, sr.ProcessedPartitions)
	require.EqualValues(t, 4, sr.TotalPartitions)
}

type fakeEngine struct {
	startSnapshot    string
	startGroups      []string
	startIncremental int
	startErr         error

	cancelTarget string
	cancelResult bool

	finishRequestID string

	context *restore.Context
}

func (f *fakeEngine) HandlePrepare(ctx context.Context, req *restore.OperationRequest) (*restore.PrepareResponse, error) {
	return &restore.PrepareResponse{}, nil
}
func (f *fakeEngine) HandlePreload(ctx context.Context, requestID string) error          { return nil }
func (f *fakeEngine) HandleCacheStart(ctx context.Context, requestID string) error       { return nil }
func (f *fakeEngine) HandleIncrementalApply(ctx context.Context, requestID string) error { return nil }
func (f *fakeEngine) HandleCacheStop(ctx context.Context, requestID string) error        { return nil }
func (f *fakeEngine) HandleRollback(ctx context.Context, requestID string) error         { return nil }
func (f *fakeEngine) HandleFinish(ctx context.Context, requestID string) error {
	f.finishRequestID = requestID
	return nil
}

func (f *fakeEngine) Start(ctx context.Context, snapshotName string, groups []string, incrementalIndex int) error {
	f.startSnapshot = snapshotName
	f.startGroups = groups
	f.startIncremental = incrementalIndex
	return f.startErr
}

func (f *fakeEngine) Cancel(ctx context.Context, requestIDOrSnapshot string) bool {
	f.cancelTarget = requestIDOrSnapshot
	return f.cancelResult
}

func (f *fakeEngine) CurrentContext() *restore.Context { return f.context }

type fakeJoinHandler struct{ added []string }

func (f *fakeJoinHandler) AddVoter(nodeID, address string) error {
	f.added = append(f.added, nodeID+"@"+address)
	return nil
}

type fakePartitionReader struct {
	data  map[int][]byte
	index []byte
}

func (f *fakePartitionReader) ReadPartitions(group string, partIDs []int) (map[int][]byte, []byte, error) {
	return f.data, f.index, nil
}
