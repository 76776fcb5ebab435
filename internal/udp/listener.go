package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"opentransit-avl/internal/logging"
)

// MaxDatagram is the largest payload read per datagram.
const MaxDatagram = 64 * 1024

// Handler receives each datagram. The payload is owned by the callee.
type Handler interface {
	OnDatagram(payload []byte, from net.Addr)
}

type HandlerFunc func(payload []byte, from net.Addr)

func (f HandlerFunc) OnDatagram(payload []byte, from net.Addr) { f(payload, from) }

type ListenerConfig struct {
	// Addr is host:port to bind.
	Addr string
	// ReadBuffer sets SO_RCVBUF when > 0.
	ReadBuffer int
	Log        logging.Logger
}

// Listener reads datagrams from a bound UDP socket.
type Listener struct {
	conn net.PacketConn
	log  logging.Logger
}

// Listen binds cfg.Addr. The socket is open when Listen returns.
func Listen(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if cfg.ReadBuffer <= 0 {
				return nil
			}
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setReadBuffer(fd, cfg.ReadBuffer)
			}); err != nil {
				return err
			}
			if serr != nil {
				// An undersized buffer is not fatal; the kernel default stays.
				cfg.Log.Warn(ctx, "set SO_RCVBUF failed", logging.Int("bytes", cfg.ReadBuffer), logging.Err(serr))
			}
			return nil
		},
	}
	conn, err := lc.ListenPacket(ctx, "udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.Addr, err)
	}
	return &Listener{conn: conn, log: cfg.Log}, nil
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// readErrorPause spaces out retries when the socket keeps reporting an error.
var readErrorPause = 10 * time.Millisecond

// Run delivers datagrams to h one at a time until ctx is cancelled or the
// socket is closed; both return nil. Other read errors (ICMP port
// unreachable and the like) are logged and the loop keeps serving.
func (l *Listener) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	l.log.Info(ctx, "udp listening", logging.String("addr", l.Addr().String()))

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.log.Warn(ctx, "udp read error", logging.Err(err))
			time.Sleep(readErrorPause)
			continue
		}
		if n == 0 {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		h.OnDatagram(payload, from)
	}
}

func (l *Listener) Close() error { return l.conn.Close() }
