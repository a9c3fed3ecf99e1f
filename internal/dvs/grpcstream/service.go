package grpcstream

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName      = "eventstream.v1.EventStream"
	subscribeMethod  = "Subscribe"
	subscribeFullRPC = "/" + serviceName + "/" + subscribeMethod
)

// eventStreamServer is the handler type checked by grpc.RegisterService.
type eventStreamServer interface {
	subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

// Subscribe takes a StringValue naming the client and streams BytesValue
// batches until the publisher closes.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*eventStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    subscribeMethod,
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "eventstream/v1/eventstream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(eventStreamServer).subscribe(req, stream)
}
