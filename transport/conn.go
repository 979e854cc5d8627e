package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/limits"
	"github.com/opd-ai/lnpeer/noise"
)

var (
	// ErrNotKeyed indicates message I/O before the session is installed.
	ErrNotKeyed = errors.New("transport not keyed")
	// ErrAlreadyKeyed indicates raw I/O or a second SetSession after keying.
	ErrAlreadyKeyed = errors.New("transport already keyed")
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// Conn is a Lightning connection. Reads and writes may run concurrently
// with each other; concurrent readers (or writers) are serialized.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex

	mu      sync.RWMutex
	session *noise.Session
}

// NewConn wraps an established byte stream.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, writeTimeout: DefaultWriteTimeout}
}

// SetWriteTimeout changes the per-write deadline. Zero disables it.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeMu.Lock()
	c.writeTimeout = d
	c.writeMu.Unlock()
}

// SetSession installs the transport ciphers. It may be called once.
func (c *Conn) SetSession(s *noise.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return ErrAlreadyKeyed
	}
	c.session = s
	return nil
}

// Keyed reports whether a session is installed.
func (c *Conn) Keyed() bool {
	return c.currentSession() != nil
}

func (c *Conn) currentSession() *noise.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// ReadAct reads exactly n handshake bytes.
func (c *Conn) ReadAct(n int) ([]byte, error) {
	if c.Keyed() {
		return nil, ErrAlreadyKeyed
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, fmt.Errorf("read act: %w", err)
	}
	return buf, nil
}

// WriteRaw writes handshake bytes unencrypted.
func (c *Conn) WriteRaw(b []byte) error {
	if c.Keyed() {
		return ErrAlreadyKeyed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(b)
}

// ReadMessage reads and decrypts one frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	s := c.currentSession()
	if s == nil {
		return nil, ErrNotKeyed
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var header [limits.EncryptedHeaderSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	n, err := s.DecryptHeader(header[:])
	if err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return s.DecryptBody(body)
}

// WriteMessage encrypts and writes one serialized message.
func (c *Conn) WriteMessage(msg []byte) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotKeyed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame, err := s.EncryptFrame(msg)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) write(b []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(b); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "write",
			"package":  "transport",
			"remote":   c.RemoteAddr().String(),
			"error":    err.Error(),
		}).Debug("Write failed")
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// SetReadDeadline sets the deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }
