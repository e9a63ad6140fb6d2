package transport

import (
	"github.com/ValentinKolb/dLock/rpc/common"
)

// ServerHandleFunc answers one serialized request addressed to a shard.
// Transports call it concurrently.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport receives requests and hands them to the registered handler.
type IRPCServerTransport interface {
	// RegisterHandler sets the handler, it must be called before Listen
	RegisterHandler(handler ServerHandleFunc)
	// Listen serves config.Transport.Endpoint and blocks until the transport
	// fails or is closed. It returns nil after Close was called.
	Listen(config common.ServerConfig) error
	// Close stops listening and closes all open connections
	Close() error
}

// IRPCClientTransport delivers serialized requests to a server.
// Implementations are safe for concurrent use after Connect.
type IRPCClientTransport interface {
	// Connect prepares the transport for the endpoints in config
	Connect(config common.ClientConfig) error
	// Send delivers req to a shard and waits for the response.
	// Failed sends are retried up to config.RetryCount times.
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close releases all connections
	Close() error
}
