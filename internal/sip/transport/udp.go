package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// MaxDatagramSize bounds a single SIP datagram.
const MaxDatagramSize = 65507

// readPollInterval bounds how long a read blocks before the loop rechecks ctx.
const readPollInterval = 500 * time.Millisecond

// Handler is invoked once per received datagram. The slice is only valid
// for the duration of the call.
type Handler func(data []byte)

// Logger defines the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// UDP is a connected UDP socket to the SIP server.
//
// Thread Safety:
//   - Send may be called from any goroutine.
//   - Serve must be called at most once.
type UDP struct {
	conn   *net.UDPConn
	logger Logger

	mu     sync.Mutex
	closed bool
}

// Dial opens a UDP socket on localPort (0 picks one) connected to server.
//
// Parameters:
//   - server: host:port of the SIP server
//   - localPort: local port to bind; 0 for an ephemeral port
//
// Returns:
//   - *UDP: ready transport
//   - error: resolution or bind failure
func Dial(server string, localPort int) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", server, err)
	}
	laddr := &net.UDPAddr{Port: localPort}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialling %s: %w", server, err)
	}

	return &UDP{conn: conn, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the transport.
func (u *UDP) SetLogger(logger Logger) {
	if logger != nil {
		u.logger = logger
	}
}

// LocalHost returns the local IP and port advertised in Via and Contact.
func (u *UDP) LocalHost() (string, int) {
	addr, ok := u.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", 0
	}
	return addr.IP.String(), addr.Port
}

// LocalAddr returns the local address as host:port.
func (u *UDP) LocalAddr() string {
	host, port := u.LocalHost()
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Send writes one datagram to the server.
func (u *UDP) Send(data []byte) (int, error) {
	if len(data) > MaxDatagramSize {
		return 0, ErrOversized
	}

	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	n, err := u.conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("udp write: %w", err)
	}
	return n, nil
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
// Transient read errors (e.g. ICMP port unreachable) are logged and skipped.
func (u *UDP) Serve(ctx context.Context, handler Handler) error {
	buf := make([]byte, MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			if u.isClosed() {
				return nil
			}
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, err := u.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || u.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			u.logger.Warn("udp read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		handler(buf[:n])
	}
}

// Close releases the socket. Further Sends return ErrClosed.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true
	return u.conn.Close()
}

func (u *UDP) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}
