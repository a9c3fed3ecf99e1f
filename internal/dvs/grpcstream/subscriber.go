package grpcstream

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Dial connects to a publisher without transport security.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(target, opts...)
}

// SubscriptionSource is a dvs.Source fed by a publisher's stream.
type SubscriptionSource struct {
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	pending []dvs.Event
	eof     bool
}

// Subscribe opens a stream on conn. name identifies this client in the
// publisher's logs.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, name string) (*SubscriptionSource, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeFullRPC)
	if err != nil {
		cancel()
		return nil, &dvs.TransportError{Op: "subscribe", Err: err}
	}
	if err := stream.SendMsg(wrapperspb.String(name)); err != nil {
		cancel()
		return nil, &dvs.TransportError{Op: "subscribe", Err: err}
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, &dvs.TransportError{Op: "subscribe", Err: err}
	}
	return &SubscriptionSource{stream: stream, cancel: cancel}, nil
}

// Next returns the next event. The stream ending or being cancelled reads as
// io.EOF; other stream failures are returned once as TransportError.
func (s *SubscriptionSource) Next(ctx context.Context) (dvs.Event, error) {
	for {
		if s.eof {
			return dvs.Event{}, io.EOF
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if ctx.Err() != nil {
			s.eof = true
			continue
		}

		stop := context.AfterFunc(ctx, s.cancel)
		msg := new(wrapperspb.BytesValue)
		err := s.stream.RecvMsg(msg)
		stop()
		if err != nil {
			s.eof = true
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				continue
			}
			return dvs.Event{}, &dvs.TransportError{Op: "receive", Err: err}
		}
		events, err := DecodeBatch(msg.GetValue(), nil)
		if err != nil {
			s.eof = true
			return dvs.Event{}, &dvs.TransportError{Op: "decode batch", Err: err}
		}
		s.pending = events
	}
}

// Close cancels the stream.
func (s *SubscriptionSource) Close() error {
	s.eof = true
	s.cancel()
	return nil
}
