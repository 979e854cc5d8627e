package transport

import (
	"io"
	"net"
	"time"
)

// partialReadConn simulates a TCP connection that returns partial reads.
type partialReadConn struct {
	data      []byte
	readPos   int
	chunkSize int
	closed    bool
}

func newPartialReadConn(data []byte, chunkSize int) *partialReadConn {
	return &partialReadConn{data: data, chunkSize: chunkSize}
}

// Read returns at most chunkSize bytes at a time.
func (p *partialReadConn) Read(b []byte) (int, error) {
	remaining := len(p.data) - p.readPos
	if p.closed || remaining == 0 {
		return 0, io.EOF
	}
	n := p.chunkSize
	if n > len(b) {
		n = len(b)
	}
	if n > remaining {
		n = remaining
	}
	n = copy(b, p.data[p.readPos:p.readPos+n])
	p.readPos += n
	return n, nil
}

func (p *partialReadConn) Write(b []byte) (int, error) { return len(b), nil }
func (p *partialReadConn) Close() error                { p.closed = true; return nil }

func (p *partialReadConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9735}
}

func (p *partialReadConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
}

func (p *partialReadConn) SetDeadline(time.Time) error      { return nil }
func (p *partialReadConn) SetReadDeadline(time.Time) error  { return nil }
func (p *partialReadConn) SetWriteDeadline(time.Time) error { return nil }
