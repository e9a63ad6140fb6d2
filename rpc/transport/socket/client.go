package socket

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// errNotSent marks failures that happened before the request left this
// process. Only those are retried, a request that reached the server may
// already have taken effect.
type errNotSent struct{ err error }

func (e errNotSent) Error() string { return e.err.Error() }
func (e errNotSent) Unwrap() error { return e.err }

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientTransport multiplexes requests over a fixed set of connections,
// chosen round robin. Broken connections are redialed on their next use.
type clientTransport struct {
	network       string
	config        common.ClientConfig
	connections   []*clientConnection
	nextConnIndex atomic.Uint64
	nextRequestID atomic.Uint64
}

// clientConnection represents a single net connection
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	pending  *xsync.MapOf[uint64, chan responseResult]
	stopCh   chan struct{}

	mu      sync.Mutex // protects conn
	conn    net.Conn
	writeMu sync.Mutex
}

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport() transport.IRPCClientTransport {
	return &clientTransport{network: "tcp"}
}

// NewUnixClientTransport creates a new Unix client transport
func NewUnixClientTransport() transport.IRPCClientTransport {
	return &clientTransport{network: "unix"}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return errors.New("no endpoints provided")
	}
	t.closeConnections()
	t.config = config

	connectionsPerEP := max(config.ConnectionsPerEndpoint, 1)
	t.connections = make([]*clientConnection, 0, len(config.Endpoints)*connectionsPerEP)

	connected := 0
	for _, endpoint := range config.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			c := &clientConnection{
				endpoint: endpoint,
				parent:   t,
				pending:  xsync.NewMapOf[uint64, chan responseResult](),
				stopCh:   make(chan struct{}),
			}
			t.connections = append(t.connections, c)

			if _, err := c.ensure(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connected++
		}
	}

	if connected == 0 {
		t.closeConnections()
		return errors.Errorf("failed to connect to any of %v", config.Endpoints)
	}

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		connected, len(t.connections), len(config.Endpoints), t.network)
	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if len(t.connections) == 0 {
		return nil, errors.New("transport not connected")
	}

	requestID := t.nextRequestID.Add(1)
	attempts := max(t.config.RetryCount, 1)
	backoffMs := 50

	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := t.nextConnection().roundTrip(shardId, requestID, req, t.timeout())
		if err == nil {
			return data, nil
		}
		lastErr = err

		var notSent errNotSent
		if !errors.As(err, &notSent) {
			break
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)

		if i+1 < attempts {
			// exponential backoff with +-10% jitter
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}
	return nil, errors.Wrapf(lastErr, "request to shard %d failed", shardId)
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// nextConnection selects the next connection via round robin
func (t *clientTransport) nextConnection() *clientConnection {
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

func (t *clientTransport) closeConnections() {
	for _, c := range t.connections {
		close(c.stopCh)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}
	t.connections = nil
}

// ensure returns the open connection or dials a new one
func (c *clientConnection) ensure() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		return nil, errors.New("transport closed")
	default:
	}

	if c.conn != nil {
		return c.conn, nil
	}

	d := net.Dialer{Timeout: c.parent.timeout()}
	conn, err := d.Dial(c.parent.network, c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", c.endpoint)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	c.conn = conn
	go c.readResponses(conn)
	return conn, nil
}

// drop forgets conn so the next request redials
func (c *clientConnection) drop(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *clientConnection) roundTrip(shardID, requestID uint64, req []byte, timeout time.Duration) ([]byte, error) {
	conn, err := c.ensure()
	if err != nil {
		return nil, errNotSent{err}
	}

	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)
	defer c.pending.Delete(requestID)

	c.writeMu.Lock()
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err = writeFrame(conn, shardID, requestID, req)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn)
		return nil, errNotSent{errors.Wrap(err, "failed to write request")}
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-respCh:
		return res.data, res.err
	case <-timeoutCh:
		return nil, errors.Errorf("request %d timed out after %s", requestID, timeout)
	case <-c.stopCh:
		return nil, errors.New("transport closed")
	}
}

// readResponses hands incoming frames to the waiting requests until conn breaks
func (c *clientConnection) readResponses(conn net.Conn) {
	for {
		shardID, requestID, data, err := readFrame(conn, nil)
		if err != nil {
			c.drop(conn)
			select {
			case <-c.stopCh:
				return
			default:
			}
			Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
			c.pending.Range(func(_ uint64, ch chan responseResult) bool {
				select {
				case ch <- responseResult{err: errors.Wrap(err, "connection lost")}:
				default:
				}
				return true
			})
			return
		}

		if ch, ok := c.pending.Load(requestID); ok {
			select {
			case ch <- responseResult{data: data}:
			default:
			}
		} else {
			Logger.Warningf("Received response for unknown request ID %d with shard ID %d", requestID, shardID)
		}
	}
}
