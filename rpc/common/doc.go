// Package common holds what the rpc server, the rpc client and the cli share:
// the message protocol, the client and server configuration and the logger
// setup.
//
//   - Message: one struct for every request and response. Which fields are
//     set depends on MsgType. Store errors keep their store.RetCode in Code,
//     so the client can rebuild a *store.Error. A lock response with Ok=false
//     and no Err means the lock is taken (a lock timeout on the server).
//
//   - ServerConfig / ClientConfig: plain structs filled by the cli. The server
//     config also converts to the Dragonboat NodeHost and shard configs.
//
//   - Logger: an implementation of Dragonboat's logger.ILogger that writes
//     "LEVEL | name | message" lines. InitLoggers installs it for the raft
//     library and for all loggers of this module.
package common
