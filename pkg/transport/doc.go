// Package transport carries restore-phase calls and partition fetches
// between nodes over mTLS gRPC.
//
// There is no generated protobuf service: the retrieved pack did not
// include the teacher's api/proto package, so the Transport service is
// hand-registered (service.go's grpc.ServiceDesc) and every message is an
// Envelope carrying a Kind and an opaque JSON payload, marshaled through
// the json codec registered in codec.go instead of protobuf's.
//
// Client plays three roles behind separate dependency-inversion seams so
// pkg/cluster, pkg/stage and pkg/restore never import pkg/transport
// themselves:
//
//	pkg/cluster.Cluster.Join's requestJoin callback -> Client.RequestJoin
//	pkg/stage.RemoteFetcher                          -> Client.FetchPartitions
//	pkg/restore.PhasePeer (remote nodes)              -> Client.PeerFor
//
// On the receiving side, Server.Invoke forwards every Envelope to a
// Dispatcher; EngineDispatcher is the concrete Dispatcher wired in
// cmd/gridrestore, routing join envelopes to the cluster, restore-phase
// envelopes to a pkg/restore.Engine's Handle* methods, and partition
// fetches to the local snapshot layout.
package transport
