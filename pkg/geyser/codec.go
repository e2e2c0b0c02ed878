package geyser

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

const (
	serviceName     = "vault.Geyser"
	subscribeMethod = "/" + serviceName + "/SubscribeAccounts"
)

// jsonCodec encodes stream messages as JSON. It is forced on both the
// client and the server.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal geyser message")
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return errors.Wrap(json.Unmarshal(data, v), "unmarshal geyser message")
}

func (jsonCodec) Name() string {
	return "json"
}

// GeyserServer is the service implemented by Server.
type GeyserServer interface {
	SubscribeAccounts(req *SubscribeRequest, stream grpc.ServerStream) error
}

var subscribeStreamDesc = grpc.StreamDesc{
	StreamName:    "SubscribeAccounts",
	Handler:       subscribeAccountsHandler,
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GeyserServer)(nil),
	Streams:     []grpc.StreamDesc{subscribeStreamDesc},
	Metadata:    "vault/geyser",
}

func subscribeAccountsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(GeyserServer).SubscribeAccounts(req, stream)
}
