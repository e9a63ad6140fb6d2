// Package http implements the RPC transport over HTTP/1.1.
//
// Every request is a POST to <endpoint>/<shardId> with the serialized message
// as body, the response body is the serialized reply. Transport failures
// (unknown route, unreadable body) use HTTP status codes, everything else
// travels inside the message.
//
// The server additionally serves GET /metrics with all VictoriaMetrics
// metrics of the process, which includes the lock manager counters and the
// acquisition latency histogram.
//
// The client picks endpoints round robin and retries requests that could not
// be sent up to RetryCount times. In debug mode the server logs every request
// with its status and duration.
package http
