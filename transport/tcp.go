package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Listener accepts inbound TCP connections.
type Listener struct {
	ln net.Listener
}

// Listen opens a TCP listener on addr.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"package":  "transport",
		"addr":     ln.Addr().String(),
	}).Info("Listening for peers")

	return &Listener{ln: ln}, nil
}

// NewListener wraps an existing listener.
func NewListener(ln net.Listener) *Listener {
	return &Listener{ln: ln}
}

// Accept waits for the next inbound connection.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops the listener.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial opens an outbound TCP connection. A zero timeout relies on ctx only.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"package":  "transport",
		"remote":   addr,
	}).Debug("Outbound connection established")

	return NewConn(c), nil
}
