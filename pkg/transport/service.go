package transport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "gridrestore.Transport"
	methodName  = "Invoke"
)

// Dispatcher is whatever handles an incoming Envelope on the receiving
// node — in practice EngineDispatcher, a thin adapter over
// pkg/restore.Engine's Handle* methods. Server depends only on this
// interface, so tests can drive it with a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *Envelope) (*Envelope, error)
}

// transportServer is the grpc.ServiceDesc's HandlerType: anything that can
// answer one Invoke call.
type transportServer interface {
	Invoke(ctx context.Context, env *Envelope) (*Envelope, error)
}

// serviceDesc is the hand-written equivalent of a generated
// _grpc.pb.go's ServiceDesc: one service, one unary method, dispatched
// through the json codec registered in codec.go instead of protobuf.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodName,
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/service.go",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	env := new(Envelope)
	if err := dec(env); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Invoke(ctx, env)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/" + methodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transportServer).Invoke(ctx, req.(*Envelope))
	}
	return interceptor(ctx, env, info, handler)
}
