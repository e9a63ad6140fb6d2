// Package transport defines the interfaces between the RPC client/server and
// the medium that carries their bytes. Requests are opaque serialized
// messages addressed to a shard id, the transport never looks inside.
//
// Implementations:
//
//   - http: one POST per request to /<shardId>. The server also exposes the
//     process metrics on GET /metrics.
//
//   - socket: length prefixed frames over TCP or unix sockets. Requests are
//     multiplexed on a few long lived connections and matched to their
//     responses by a request id.
package transport
