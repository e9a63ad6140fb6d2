// Package socket implements the RPC transport over stream sockets (TCP or
// unix). Requests and responses are frames:
//
//	shardId (8 bytes) | requestId (8 bytes) | length (4 bytes) | payload
//
// all big endian. A client keeps ConnectionsPerEndpoint connections per
// endpoint and sends requests without waiting for earlier responses. A reader
// goroutine per connection matches responses to requests by id, so the server
// may answer in any order.
//
// The server runs up to a fixed number of handlers per connection and reads
// requests into pooled buffers.
//
// Retries:
//
//	The client retries a request (up to RetryCount attempts, exponential
//	backoff starting at 50ms) only if it never reached the socket: dial
//	errors and failed writes. A request that timed out or lost its
//	connection while waiting is not retried, since the server may already
//	have applied it. A broken connection is redialed on its next use.
package socket
