package socket

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	DefaultTCPBufferSize  = 512 * 1024 // 512 KB
	DefaultUnixBufferSize = 64 * 1024  // 64 KB
	defaultWorkersPerConn = 64
)

// serverTransport serves framed requests on a stream listener. Every
// connection gets a reader goroutine and at most maxWorkersPerConn handlers.
type serverTransport struct {
	network           string
	handler           transport.ServerHandleFunc
	bufferPool        *sync.Pool
	maxWorkersPerConn int

	mu       sync.Mutex
	listener net.Listener
	conns    *xsync.MapOf[net.Conn, struct{}]
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewTCPServerTransport creates a server transport listening on a tcp address
func NewTCPServerTransport(bufferSize int) transport.IRPCServerTransport {
	return NewServerTransport("tcp", bufferSize, defaultWorkersPerConn)
}

// NewUnixServerTransport creates a server transport listening on a unix socket path
func NewUnixServerTransport(bufferSize int) transport.IRPCServerTransport {
	return NewServerTransport("unix", bufferSize, defaultWorkersPerConn)
}

// NewServerTransport creates a server transport for a stream network ("tcp" or "unix").
// bufferSize is the size of the pooled read buffers, larger requests allocate.
func NewServerTransport(network string, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	if bufferSize <= 0 {
		bufferSize = DefaultUnixBufferSize
	}
	return &serverTransport{
		network:           network,
		maxWorkersPerConn: max(maxWorkersPerConn, 1),
		conns:             xsync.NewMapOf[net.Conn, struct{}](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	endpoint := config.Transport.Endpoint
	if t.network == "unix" {
		if err := os.RemoveAll(endpoint); err != nil {
			return errors.Wrap(err, "failed to remove existing socket")
		}
	}

	listener, err := net.Listen(t.network, endpoint)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s %s", t.network, endpoint)
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.network, listener.Addr(), t.maxWorkersPerConn)

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() {
				t.wg.Wait()
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		t.conns.Store(conn, struct{}{})
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.conns.Delete(conn)
			t.handleConnection(conn, timeout)
		}()
	}
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Swap(true) {
		return nil
	}
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads requests until the connection is closed. Responses
// are written in completion order, the client matches them by request id.
func (t *serverTransport) handleConnection(conn net.Conn, timeout time.Duration) {
	defer conn.Close()

	workers := make(chan struct{}, t.maxWorkersPerConn)
	var wg sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(shardID, requestID uint64, data []byte) {
		start := time.Now()
		resp := t.handler(shardID, data)
		Logger.Debugf("Processed request for shard %d with requestID %d took %s", shardID, requestID, time.Since(start))

		writeMu.Lock()
		defer writeMu.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, shardID, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	for {
		buf := t.bufferPool.Get().([]byte)
		shardID, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case err == io.EOF, t.closed.Load():
				Logger.Debugf("Connection %s closed", conn.RemoteAddr())
			default:
				Logger.Errorf("Error reading request: %v", err)
			}
			break
		}

		// blocks while maxWorkersPerConn requests are in flight
		workers <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				t.bufferPool.Put(buf)
				<-workers
				wg.Done()
			}()
			respond(shardID, requestID, data)
		}()
	}

	wg.Wait()
}
