// Package transport carries Lightning messages over TCP.
//
// A [Conn] starts unkeyed: the handshake driver moves raw act bytes with
// ReadAct and WriteRaw. Once the BOLT 8 handshake yields a noise.Session,
// SetSession switches the connection to encrypted framing and every
// ReadMessage/WriteMessage call moves exactly one message.
//
// Interfaces follow the standard library: listeners and connections are
// net.Listener and net.Conn underneath, so tests run over net.Pipe.
//
//	ln, err := transport.Listen("127.0.0.1:9735")
//	conn, err := ln.Accept()
//
//	conn, err := transport.Dial(ctx, "203.0.113.5:9735", 10*time.Second)
package transport
